// Package biz 实现知识库的业务逻辑。
//
// Ingestor 负责条目注册与索引任务（提取 → 分块 → 向量化 → 写入），
// Searcher 提供向量、词法与混合检索，Answerer 基于检索结果生成带引用的回答并维护会话。
//
// 索引任务在 worker pool 中异步执行，每次任务写入新的分块版本（generation），
// 成功后原子切换条目的 ActiveGeneration 再清理旧版本，检索只返回当前版本的分块。
package biz
