package internal

// 客戶端 → 服務器訊息類型
const (
	TypeRegister        = "REGISTER"
	TypeStartMatching   = "START_MATCHING"
	TypeStopMatching    = "STOP_MATCHING"
	TypeSendMessage     = "SEND_MESSAGE"
	TypeDisconnectChat  = "DISCONNECT_CHAT"
	TypeGetRooms        = "GET_ROOMS"
	TypeCreateRoom      = "CREATE_ROOM"
	TypeJoinRoom        = "JOIN_ROOM"
	TypeLeaveRoom       = "LEAVE_ROOM"
	TypeSendRoomMessage = "SEND_ROOM_MESSAGE"
)

// 服務器 → 客戶端訊息類型
const (
	TypeRegistered          = "REGISTERED"
	TypeOnlineCount         = "ONLINE_COUNT"
	TypeMatchFound          = "MATCH_FOUND"
	TypeMessageReceived     = "MESSAGE_RECEIVED"
	TypePartnerDisconnected = "PARTNER_DISCONNECTED"
	TypeRoomList            = "ROOM_LIST"
	TypeRoomListUpdate      = "ROOM_LIST_UPDATE"
	TypeRoomJoined          = "ROOM_JOINED"
	TypeUserJoined          = "USER_JOINED"
	TypeUserLeft            = "USER_LEFT"
	TypeRoomMessageReceived = "ROOM_MESSAGE_RECEIVED"
	TypeError               = "ERROR"
)

// ClientMessage 入站訊框的統一信封
//
// 每個訊框帶必填的 type 判別欄位，其餘欄位按類型取用；
// 多餘欄位忽略，缺失欄位取零值。
type ClientMessage struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	MaxSize  int    `json:"maxSize,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

// UserView 配對對象或訊息發送者的對外視圖
type UserView struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// MemberView 房間成員的對外視圖
type MemberView struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	IsCreator bool   `json:"isCreator"`
}

// RoomView ROOM_JOINED 中的房間摘要
type RoomView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"`
	MaxSize int    `json:"maxSize"`
}

// 出站訊框。欄位名即線上協議，與客戶端約定一致。

type registeredMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type onlineCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type matchFoundMsg struct {
	Type    string   `json:"type"`
	Partner UserView `json:"partner"`
}

type messageReceivedMsg struct {
	Type      string `json:"type"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type partnerDisconnectedMsg struct {
	Type string `json:"type"`
}

type roomListMsg struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

type roomJoinedMsg struct {
	Type    string       `json:"type"`
	Room    RoomView     `json:"room"`
	Members []MemberView `json:"members"`
}

type userJoinedMsg struct {
	Type string     `json:"type"`
	User MemberView `json:"user"`
}

type userLeftMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

type roomMessageMsg struct {
	Type      string   `json:"type"`
	SenderID  string   `json:"senderId"`
	Sender    UserView `json:"sender"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
