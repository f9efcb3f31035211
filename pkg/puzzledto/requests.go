package puzzledto

type StartSessionRequest struct {
	Input string   `json:"input,omitempty"`
	FENs  []string `json:"fens,omitempty"`
	Title string   `json:"title,omitempty"`
	Level string   `json:"level,omitempty"`
}

type StartLessonRequest struct {
	Lesson int    `json:"lesson"`
	Level  string `json:"level"`
}

type MoveRequest struct {
	Move string `json:"move"`
}

type LessonView struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Available []string `json:"available"`
}

type CatalogView struct {
	Lessons []LessonView `json:"lessons"`
}
