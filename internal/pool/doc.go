// Package pool 提供受控并发的工作池与对象复用池。
//
// WorkerPool 承载逐句语音合成任务：固定上限的 worker、有界队列，
// 队列满时立即拒绝而不是阻塞调用方；出队时上下文已取消的任务会被静默丢弃。
// BufferPool 基于 sync.Pool，复用 SSE 帧的编码缓冲。
package pool
