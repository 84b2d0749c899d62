// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 a2abridge 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试与集成测试提供统一的辅助能力，
避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue
  - 等待工具: WaitFor / WaitForChannel
  - JSON 工具: MustJSON / MustParseJSON

# 子包

  - fixtures: 代理卡与报文的测试数据工厂
  - mocks: 可编排响应、记录调用的 Transport 模拟实现
*/
package testutil
