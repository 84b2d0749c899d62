// Package tlsutil 提供集中式 TLS 配置，
// 供 a2abridge 的 HTTPS 服务端与报文投递客户端使用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
