package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chemsim/internal/shared/eventbus"
	"chemsim/internal/shared/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 允许所有来源，与 REST 接口的 CORS 策略一致。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RunGetter 读取运行登记表中的 Run
type RunGetter interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
}

// EventGateway WebSocket 阶段事件网关
//
// 客户端连接后先补发 Seq > from_seq 的历史事件，再订阅新事件。
// 收到 run.completed / run.failed 后追加一条状态消息并关闭连接。
type EventGateway struct {
	runs    RunGetter
	bus     eventbus.RunEventBus
	metrics *Metrics

	clients map[string]map[*websocket.Conn]bool // 按 RunID 索引
	mu      sync.RWMutex
}

// NewEventGateway 创建事件网关，bus 为 nil 时使用空实现
func NewEventGateway(runs RunGetter, bus eventbus.RunEventBus, metrics *Metrics) *EventGateway {
	if bus == nil {
		bus = eventbus.NewNoOpEventBus()
	}
	return &EventGateway{
		runs:    runs,
		bus:     bus,
		metrics: metrics,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// wsMessage 推送给客户端的消息
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/runs/{id}/events
//
// 查询参数：
//   - from_seq: 已收到的最大事件序号，断线重连时使用，默认 0（从头补发）
//
// 推送消息格式：
//
//	事件消息：{"type": "event", "data": {"seq": 1, "type": "run.stage", ...}}
//	状态消息：{"type": "status", "data": {"status": "completed", "folder_name": "..."}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}
	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))
	if fromSeq < 0 {
		fromSeq = 0
	}

	run, err := g.runs.GetRun(r.Context(), runID)
	if err != nil {
		log.Printf("[ws.connect] GetRun error: run_id=%s err=%v", runID, err)
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws.connect] upgrade error: run_id=%s err=%v", runID, err)
		return
	}
	defer conn.Close()

	g.addClient(runID, conn)
	defer g.removeClient(runID, conn)
	g.metrics.wsOpened()
	defer g.metrics.wsClosed()

	log.Printf("[ws.connect] run_id=%s from_seq=%d", runID, fromSeq)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 写操作统一经过 send，readPump 的 pong 也不例外
	var writeMu sync.Mutex
	send := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		g.metrics.recordWSMessage("out", msg.Type)
		return nil
	}
	ping := func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.PingMessage, nil)
	}

	go g.readPump(conn, send, cancel)
	g.writePump(ctx, runID, fromSeq, send, ping)
}

// readPump 读取客户端消息，连接断开时取消上下文
func (g *EventGateway) readPump(conn *websocket.Conn, send func(wsMessage) error, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws.read] error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &req) != nil {
			continue
		}
		g.metrics.recordWSMessage("in", req.Type)
		if req.Type == "ping" {
			if err := send(wsMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

// writePump 补发历史事件后转发实时事件
//
// 先订阅再读历史，避免两者之间发布的事件丢失；重复的 Seq 按 lastSeq 过滤。
func (g *EventGateway) writePump(ctx context.Context, runID string, fromSeq int, send func(wsMessage) error, ping func() error) {
	eventCh, err := g.bus.SubscribeRunEvents(ctx, runID)
	if err != nil {
		log.Printf("[ws.subscribe] error: run_id=%s err=%v", runID, err)
		g.sendFinalStatus(ctx, runID, send)
		return
	}

	lastSeq := fromSeq
	deliver := func(event *eventbus.RunEvent) (done bool, err error) {
		if event.Seq <= lastSeq {
			return false, nil
		}
		if err := send(wsMessage{Type: "event", Data: event}); err != nil {
			return true, err
		}
		lastSeq = event.Seq
		if event.IsTerminal() {
			return true, send(wsMessage{Type: "status", Data: statusData(event)})
		}
		return false, nil
	}

	history, err := g.bus.GetRunEvents(ctx, runID, fromSeq, 0)
	if err != nil {
		log.Printf("[ws.history] error: run_id=%s err=%v", runID, err)
	}
	for _, event := range history {
		done, err := deliver(event)
		if err != nil {
			log.Printf("[ws.write] error: run_id=%s err=%v", runID, err)
			return
		}
		if done {
			return
		}
	}

	// 历史中没有终止事件但登记表已是终态（事件流过期或 from_seq 越界）
	if run, err := g.runs.GetRun(ctx, runID); err == nil && run != nil && run.Status.IsTerminal() {
		send(wsMessage{Type: "status", Data: runStatusData(run)})
		return
	}

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := ping(); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			done, err := deliver(event)
			if err != nil {
				log.Printf("[ws.write] error: run_id=%s err=%v", runID, err)
				return
			}
			if done {
				return
			}
		}
	}
}

// sendFinalStatus 订阅失败时尽力推送当前状态
func (g *EventGateway) sendFinalStatus(ctx context.Context, runID string, send func(wsMessage) error) {
	run, err := g.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		return
	}
	send(wsMessage{Type: "status", Data: runStatusData(run)})
}

func statusData(event *eventbus.RunEvent) map[string]interface{} {
	data := map[string]interface{}{"status": model.RunStatusFailed.PublicStatus()}
	if event.Type == eventbus.EventRunCompleted {
		data["status"] = model.RunStatusCompleted.PublicStatus()
	}
	for _, key := range []string{"folder_name", "error", "archive_path"} {
		if v, ok := event.Payload[key]; ok {
			data[key] = v
		}
	}
	return data
}

func runStatusData(run *model.Run) map[string]interface{} {
	data := map[string]interface{}{
		"status":      run.Status.PublicStatus(),
		"folder_name": run.Slug,
	}
	if run.Error != nil {
		data["error"] = *run.Error
	}
	if run.ArchivePath != nil {
		data["archive_path"] = *run.ArchivePath
	}
	if run.FinishedAt != nil {
		data["finished_at"] = run.FinishedAt
	}
	return data
}

// addClient 添加客户端连接
func (g *EventGateway) addClient(runID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.clients[runID] == nil {
		g.clients[runID] = make(map[*websocket.Conn]bool)
	}
	g.clients[runID][conn] = true
}

// removeClient 移除客户端连接，该 Run 没有其他连接时清理条目
func (g *EventGateway) removeClient(runID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.clients[runID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, runID)
		}
	}
}

// ClientCount 返回指定 Run 的连接数
func (g *EventGateway) ClientCount(runID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[runID])
}
