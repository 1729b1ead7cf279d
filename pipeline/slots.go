package pipeline

import "container/heap"

// 句子合成结果
const (
	outcomeOK       = "ok"
	outcomeCached   = "cached"
	outcomeFailed   = "failed"
	outcomeSkipped  = "skipped"
	outcomeRejected = "rejected"
)

// slotResult 一个槽位的合成结果
type slotResult struct {
	slot     int
	sentence Sentence
	audio    []byte
	outcome  string
}

// slotQueue 按槽位号排序的小顶堆
type slotQueue []slotResult

func (q slotQueue) Len() int           { return len(q) }
func (q slotQueue) Less(i, j int) bool { return q[i].slot < q[j].slot }
func (q slotQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *slotQueue) Push(x any) { *q = append(*q, x.(slotResult)) }

func (q *slotQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// reorder 乱序到达的结果按槽位号依次放行
type reorder struct {
	next  int
	queue slotQueue
}

func (r *reorder) add(res slotResult) {
	heap.Push(&r.queue, res)
}

// ready 弹出下一个可以发送的结果
func (r *reorder) ready() (slotResult, bool) {
	if len(r.queue) == 0 || r.queue[0].slot != r.next {
		return slotResult{}, false
	}
	r.next++
	return heap.Pop(&r.queue).(slotResult), true
}
