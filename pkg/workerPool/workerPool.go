// Package workerPool is a fixed-size pool for CPU-bound upload preparation:
// envelope serialization, hashing and blob generation. I/O-bound work stays
// on plain goroutines; the pool only bounds the compute-heavy part.
package workerPool

import (
	"runtime"
	"sync"
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type Room struct {
	resultChan chan interface{}
	wg         sync.WaitGroup
	wp         *WorkerPool
}

type Task struct {
	run  func() interface{}
	room *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		if t.room == nil {
			t.run()
			continue
		}
		t.room.resultChan <- t.run()
		t.room.wg.Done()
	}
}

// Submit queues a fire-and-forget job. The job signals its own completion,
// typically by completing a handle.
func (wp *WorkerPool) Submit(job func()) {
	wp.taskQueue <- Task{run: func() interface{} {
		job()
		return nil
	}}
}

// CreateRoom groups tasks whose results are collected together. size bounds
// the number of uncollected results.
func (wp *WorkerPool) CreateRoom(size int) *Room {
	return &Room{
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

func (ro *Room) NewTaskWaitForFreeSlot(job func() interface{}) {
	ro.wg.Add(1)
	ro.wp.taskQueue <- Task{run: job, room: ro}
}

// Collect waits for all tasks in the room and returns their results in
// completion order.
func (ro *Room) Collect() []interface{} {
	go ro.waitAndClose()

	results := make([]interface{}, 0)
	for result := range ro.resultChan {
		results = append(results, result)
	}
	return results
}

func (ro *Room) waitAndClose() {
	ro.wg.Wait()
	close(ro.resultChan)
}
