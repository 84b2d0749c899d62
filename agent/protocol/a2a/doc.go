/*
Package a2a 实现代理间报文协议的核心: 信封校验、载荷字段表、代理卡解析与能力匹配.

报文通过 Validate 严格校验后才会被处理, 出站报文由 NewMessage 构造并经 Encode
重新校验. 匹配器 (Matches / CheckEligible / SelectAgent) 是纯函数, 只读取代理卡.
*/
package a2a
