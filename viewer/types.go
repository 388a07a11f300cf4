package main

type GameSummary struct {
	GameID     string `json:"game_id"`
	Turns      int32  `json:"turns"`
	Winner     string `json:"winner"`
	Source     string `json:"source"`
	SourceFile string `json:"file"`
	Notation   string `json:"notation"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

// PlayerStats is the result split for one side. Player uses the winner
// letters of the notation.
type PlayerStats struct {
	Player  string  `json:"player"`
	Wins    int64   `json:"wins"`
	WinRate float64 `json:"win_rate"`
}

type OpeningStats struct {
	Move      string  `json:"move"`
	Games     int64   `json:"games"`
	MoverWins float64 `json:"mover_win_rate"`
}

type StatsResponse struct {
	Games      int64          `json:"games"`
	Rows       int64          `json:"rows"`
	AvgTurns   float64        `json:"avg_turns"`
	AvgThinkMs float64        `json:"avg_think_ms"`
	AvgVisits  float64        `json:"avg_visits"`
	Players    []PlayerStats  `json:"players"`
	Openings   []OpeningStats `json:"openings"`
}

type Turn struct {
	Turn     int32   `json:"turn"`
	Player   string  `json:"player"`
	Move     string  `json:"move"`
	History  string  `json:"history"`
	Win      float32 `json:"win"`
	Visits   int64   `json:"visits"`
	Nodes    int32   `json:"nodes"`
	MaxDepth int32   `json:"max_depth"`
	Options  int32   `json:"options"`
	ThinkMs  int32   `json:"think_ms"`
}

type GameResponse struct {
	GameID string `json:"game_id"`
	Winner string `json:"winner"`
	Turns  []Turn `json:"turns"`
	// Board is the final position drawn as text.
	Board string `json:"board"`
}
