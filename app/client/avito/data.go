package avito

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Chat is a conversation summary from the v2 chat listing.
type Chat struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

type MessageContent struct {
	Text string `json:"text"`
}

// Message is a v3 messenger message. The API does not guarantee any
// particular order, callers sort by Created themselves.
type Message struct {
	ID        string         `json:"id"`
	AuthorID  int64          `json:"author_id"`
	Direction string         `json:"direction"`
	IsRead    bool           `json:"is_read"`
	Created   int64          `json:"created"`
	Type      string         `json:"type"`
	Content   MessageContent `json:"content"`
}

// SentMessage is the v1 send confirmation.
type SentMessage struct {
	ID      string         `json:"id"`
	Content MessageContent `json:"content"`
}

type chatsResponse struct {
	Chats []Chat `json:"chats"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type readResponse struct {
	OK bool `json:"ok"`
}
