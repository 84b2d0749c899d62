/*
Package lifecycle 实现任务生命周期状态机.

状态固定为 created, assigned, in_progress, completed, failed, cancelled, 其中后三者为终态.
所有修改都经过 transition 查表完成; 与当前状态完全一致的重复事件是幂等的空操作,
任务不会被保存, updated_at 也不会变化.

Engine 按 task_id 串行化转换, 存储通过 TaskStore 注入. MemoryTaskStore 用于开发和测试,
redis 与 SQL 实现位于 agent/persistence.
*/
package lifecycle
