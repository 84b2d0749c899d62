// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，支持 postgres、mysql
与纯 Go 的 sqlite 驱动，以及健康检查与事务重试。

# 核心类型

  - Open：按驱动名打开 GORM 连接。
  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 在死锁、序列化失败与 sqlite 锁冲突时指数退避重试。
*/
package database
