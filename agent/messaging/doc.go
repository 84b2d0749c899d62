// Package messaging 把校验、发现、投递与生命周期串成完整的 A2A 报文流程.
//
// 委派方通过 Client.AssignTask 或 Client.Delegate 发出 task_assignment, 收到确认后
// 本地任务进入 assigned; 受托方用 SendStatusUpdate / SendCompletion / SendFailure
// 上报进展, 委派方的 Client.Process 校验后驱动同一任务的转换. 处理入站报文失败时,
// Client.ReplyError 把 error 报文回给原发送方.
//
// Client 实现 transport.Processor, 可以直接挂到 LocalTransport 或 HTTP 处理器上.
package messaging
