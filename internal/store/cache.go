package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL 是表快照的默认有效期。
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	rows     []Row
	loadedAt time.Time
}

// TableCache 按表缓存整表快照，过期或被失效后下一次读取回源。
//
// 每张表维护一个代数（generation），Invalidate 会让代数加一：
// 失效前已经发出的回源结果不会再写入缓存，也不会被失效后的读者复用，
// 因此写入方总能立即读到自己的写入。其它会话最多看到 TTL 以内的旧数据。
type TableCache struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.Mutex
	entries     map[Table]cacheEntry
	generations map[Table]uint64
	group       singleflight.Group

	onHit  func(Table)
	onMiss func(Table)
}

// NewTableCache 构造缓存，ttl <= 0 时使用 DefaultCacheTTL。
func NewTableCache(ttl time.Duration) *TableCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TableCache{
		ttl:         ttl,
		now:         time.Now,
		entries:     map[Table]cacheEntry{},
		generations: map[Table]uint64{},
	}
}

// SetClock 替换时钟，主要用于测试 TTL。
func (c *TableCache) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Read 返回表快照；命中且未过期时直接返回，否则调用 load 回源并记录时间戳。
// 同一代数下并发的回源请求会被合并为一次。
func (c *TableCache) Read(ctx context.Context, table Table, load func(context.Context) ([]Row, error)) ([]Row, error) {
	c.mu.Lock()
	if entry, ok := c.entries[table]; ok && c.now().Sub(entry.loadedAt) < c.ttl {
		c.mu.Unlock()
		if c.onHit != nil {
			c.onHit(table)
		}
		return entry.rows, nil
	}
	gen, seen := c.generations[table]
	if !seen {
		c.generations[table] = 0
	}
	c.mu.Unlock()

	if c.onMiss != nil {
		c.onMiss(table)
	}

	// 合并的回源由多个读者共享，不随发起者取消；超时由 load 控制
	shared := context.WithoutCancel(ctx)
	key := string(table) + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		rows, err := load(shared)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generations[table] == gen {
			c.entries[table] = cacheEntry{rows: rows, loadedAt: c.now()}
		}
		c.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Row), nil
}

// Invalidate 让指定表的快照失效。
func (c *TableCache) Invalidate(table Table) {
	c.mu.Lock()
	delete(c.entries, table)
	c.generations[table]++
	c.mu.Unlock()
}

// InvalidateAll 让所有表的快照失效。
func (c *TableCache) InvalidateAll() {
	c.mu.Lock()
	for table := range c.generations {
		c.generations[table]++
	}
	c.entries = map[Table]cacheEntry{}
	c.mu.Unlock()
}
