package domain

// Member represents user's participation meta for a voice channel.
// No transport or lifecycle logic here.
type Member struct {
	UserID  UserID `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}
