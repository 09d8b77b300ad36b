package agent

import (
	"time"

	"github.com/google/uuid"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeRequest   MessageType = "request"   // 请求
	MessageTypeResponse  MessageType = "response"  // 应答
	MessageTypeBroadcast MessageType = "broadcast" // 广播
	MessageTypeHandoff   MessageType = "handoff"   // 任务交接
	MessageTypeStatus    MessageType = "status"    // 状态通告
	MessageTypeError     MessageType = "error"     // 错误通告
)

// AgentMessage Agent 间消息
type AgentMessage struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"` // 空表示广播
	Type      MessageType       `json:"type"`
	Content   any               `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	ReplyTo   string            `json:"reply_to,omitempty"` // 关联的请求消息 ID
}

// NewMessage 创建消息
func NewMessage(from, to string, typ MessageType, content any) *AgentMessage {
	return &AgentMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewResponse 创建对 req 的应答消息
func NewResponse(req *AgentMessage, from string, content any) *AgentMessage {
	msg := NewMessage(from, req.From, MessageTypeResponse, content)
	msg.ReplyTo = req.ID
	return msg
}

// IsBroadcast 是否为广播消息
func (m *AgentMessage) IsBroadcast() bool {
	return m.To == ""
}

// HandoffPayload 任务交接消息内容
type HandoffPayload struct {
	TaskID    string         `json:"task_id"`
	Reason    string         `json:"reason,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}
