package domain

import (
	"strings"
	"time"
)

// StaffRoom is the single broadcast group shared by all staff connections.
const StaffRoom = "staff:all"

const chatRoomPrefix = "chat:"

// ChatRoom returns the room identifier for one customer's chat channel.
func ChatRoom(customerID string) string {
	return chatRoomPrefix + customerID
}

// IsChatRoom reports whether roomID names a per-customer chat room.
func IsChatRoom(roomID string) bool {
	return strings.HasPrefix(roomID, chatRoomPrefix) && len(roomID) > len(chatRoomPrefix)
}

// ChatRoomOwner extracts the customer id from a chat room identifier.
func ChatRoomOwner(roomID string) string {
	return strings.TrimPrefix(roomID, chatRoomPrefix)
}

// ChatMessage is one entry in a customer's chat thread, immutable once
// stored. Ordering within a room is by CreatedAt, then ID as tiebreak.
type ChatMessage struct {
	ID           string
	RoomID       string
	SenderID     string
	IsStaffReply bool
	Content      string
	CreatedAt    time.Time
}
