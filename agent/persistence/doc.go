// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供任务与 Agent 记录的持久化后端。

# 核心接口

  - Store: 同时实现 lifecycle.TaskStore 与 discovery.AgentStore，
    另提供 Close 和 Ping 健康检查。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - Redis: 任务以 JSON 保存，按创建时间用 Sorted Set 建立全量、状态与 Agent 索引，
    写入使用事务 Pipeline；Agent 记录保存在单个 Hash 中。适合分布式部署。
  - Database: 基于 GORM，支持 postgres、mysql 与 sqlite，
    完整对象以 JSON 保存在 data 列，查询列单独建索引。

# 使用方式

通过工厂函数按配置创建存储实例：

	store, err := persistence.New(config, logger)
	engine := lifecycle.NewEngine(store, logger)
	registry := discovery.NewRegistry(store, logger)

所有后端保存与返回的都是副本，调用方修改返回值不会影响存储内容。
*/
package persistence
