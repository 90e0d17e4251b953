// Package snowflake 提供雪花算法主键生成器，用于 keygen 的 int64 主键策略。
//
// 位布局（高位到低位）：41 位毫秒时间戳 | 5 位数据中心 | 5 位节点 | 12 位序列。
package snowflake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch 2023-01-01 00:00:00 UTC
	epoch int64 = 1672531200000

	sequenceBits = 12
	nodeBits     = 5

	maxNode     = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + nodeBits
	timestampShift  = sequenceBits + 2*nodeBits

	// maxBackwardSkew 可等待追平的时钟回拨幅度，超过时返回错误
	maxBackwardSkew = 5 * time.Millisecond
)

// ErrClockMovedBackwards 时钟回拨超过容忍范围
var ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")

// Generator 并发安全
type Generator struct {
	mu         sync.Mutex
	node       int64 // 数据中心与节点号，已移位
	sequence   int64
	lastMillis int64
	now        func() int64
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewGenerator 数据中心与节点号范围均为 [0, 31]
func NewGenerator(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxNode {
		return nil, fmt.Errorf("snowflake: datacenter id %d out of range [0, %d]", datacenterID, maxNode)
	}
	if workerID < 0 || workerID > maxNode {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0, %d]", workerID, maxNode)
	}
	return &Generator{
		node:       datacenterID<<datacenterShift | workerID<<workerShift,
		lastMillis: -1,
		now:        func() int64 { return time.Now().UnixMilli() },
		sleep:      sleepCtx,
	}, nil
}

// NextID 同一毫秒内序列号用完或时钟小幅回拨时等待，等待期间 ctx 取消则返回其错误
func (g *Generator) NextID(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastMillis {
		skew := time.Duration(g.lastMillis-now) * time.Millisecond
		if skew > maxBackwardSkew {
			return 0, fmt.Errorf("%w by %s", ErrClockMovedBackwards, skew)
		}
		if err := g.sleep(ctx, skew); err != nil {
			return 0, err
		}
		now = g.now()
	}

	switch {
	case now > g.lastMillis:
		g.sequence = 0
	case g.sequence < maxSequence:
		g.sequence++
	default:
		for now <= g.lastMillis {
			if err := g.sleep(ctx, time.Millisecond); err != nil {
				return 0, err
			}
			now = g.now()
		}
		g.sequence = 0
	}
	g.lastMillis = now

	return (now-epoch)<<timestampShift | g.node | g.sequence, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Parts ID 的组成部分
type Parts struct {
	Timestamp    time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

func Parse(id int64) Parts {
	return Parts{
		Timestamp:    time.UnixMilli(id>>timestampShift + epoch),
		DatacenterID: id >> datacenterShift & maxNode,
		WorkerID:     id >> workerShift & maxNode,
		Sequence:     id & maxSequence,
	}
}
