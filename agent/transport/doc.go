// Package transport 负责把编码后的 A2A 报文送达对端.
//
// HTTPTransport 向 {endpoint}/a2a/messages 发送 POST 请求,
// LocalTransport 在进程内直接调用已挂载的 Processor.
// 两者都只把网络层失败转换为 TRANSPORT_ERROR 或 TIMEOUT,
// 对端返回的 HTTP 状态由 a2a.InterpretResponse 解释.
package transport
