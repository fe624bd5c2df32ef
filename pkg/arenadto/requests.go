package arenadto

// Envelope wraps every HTTP response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CreateGameRequest struct {
	White       string `json:"white"`
	Black       string `json:"black,omitempty"`
	GameType    string `json:"gameType"`
	WhiteRating int    `json:"whiteRating,omitempty"`
	BlackRating int    `json:"blackRating,omitempty"`
}

type JoinGameRequest struct {
	PlayerID string `json:"playerId"`
}

type MoveRequest struct {
	PlayerID  string `json:"playerId"`
	Move      string `json:"move,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

type PlayerRequest struct {
	PlayerID string `json:"playerId"`
}
