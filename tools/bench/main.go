package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// 简单的WebSocket压测工具：
// 拉起 N 个连接，各自 identify 后以固定间隔发送全局消息，
// 统计收到的广播帧数量和吞吐

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID uint64          `json:"ack_id,omitempty"`
}

var (
	addr     = flag.String("addr", "ws://localhost:8080/ws", "服务地址")
	clients  = flag.Int("clients", 10, "并发连接数")
	messages = flag.Int("messages", 20, "每个连接发送的消息数")
	interval = flag.Duration("interval", 100*time.Millisecond, "发送间隔")
)

var received int64

func main() {
	flag.Parse()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			runClient(idx)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := atomic.LoadInt64(&received)
	fmt.Printf("连接数=%d 每连接消息数=%d 耗时=%s\n", *clients, *messages, elapsed)
	fmt.Printf("收到广播帧=%d 吞吐=%.1f 帧/秒\n", total, float64(total)/elapsed.Seconds())
}

func runClient(idx int) {
	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Printf("client %d: 连接失败: %v", idx, err)
		return
	}
	defer conn.Close()

	// 身份确立
	identify := map[string]interface{}{
		"event": "identify",
		"data": map[string]string{
			"user_id":  fmt.Sprintf("bench-user-%d", idx),
			"nickname": fmt.Sprintf("bench-%d", idx),
		},
	}
	if err := conn.WriteJSON(identify); err != nil {
		log.Printf("client %d: identify失败: %v", idx, err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Event == "new_global_message" {
				atomic.AddInt64(&received, 1)
			}
		}
	}()

	for n := 0; n < *messages; n++ {
		msg := map[string]interface{}{
			"event": "global_message",
			"data": map[string]string{
				"body": fmt.Sprintf("bench message %d from %d", n, idx),
				"kind": "text",
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("client %d: 发送失败: %v", idx, err)
			return
		}
		time.Sleep(*interval)
	}

	// 留一点时间收尾
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}
