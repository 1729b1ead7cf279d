// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package scheduler 基于 robfig/cron 运行进程内的周期任务。

目前注册两类任务：

  - affect.tick：情绪崩溃与恢复按时间推进，不依赖用户输入
  - history.flush：重试之前写入失败的会话历史

同一任务的上一次执行尚未结束时，本次触发会被跳过；任务中的 panic
被恢复并记录日志。Stop 会等待在途任务结束。
*/
package scheduler
