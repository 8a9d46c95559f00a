package domain

import (
	"fmt"
	"strings"
)

type Phase string

const (
	PhaseNone     Phase = ""
	PhaseArterial Phase = "arterial"
	PhaseVenous   Phase = "venous"
)

type PhaseInfo struct {
	ID          Phase  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

var Phases = []PhaseInfo{
	{
		ID:          PhaseArterial,
		Name:        "Arterial Phase",
		Description: "Enhanced arterial blood flow visualization",
		Icon:        "🔴",
	},
	{
		ID:          PhaseVenous,
		Name:        "Venous Phase",
		Description: "Enhanced venous blood flow visualization",
		Icon:        "🔵",
	},
}

func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseArterial, PhaseVenous:
		return p, nil
	default:
		return PhaseNone, fmt.Errorf("unknown phase %q", s)
	}
}

func (p Phase) Valid() bool {
	return p == PhaseArterial || p == PhaseVenous
}

func (p Phase) Info() (PhaseInfo, bool) {
	for _, info := range Phases {
		if info.ID == p {
			return info, true
		}
	}
	return PhaseInfo{}, false
}

// SelectedFile живёт только в памяти сессии и не пишется на диск.
type SelectedFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"type"`
	Data     []byte `json:"-"`
}

// Ref ссылается на байты в blob-репозитории. Пустая строка означает отсутствие.
type Ref string

func (r Ref) Empty() bool {
	return r == ""
}

func (r Ref) URL() string {
	if r.Empty() {
		return ""
	}
	return "/blobs/" + string(r)
}

type ImagePair struct {
	OriginalRef  Ref   `json:"original_ref"`
	ProcessedRef Ref   `json:"processed_ref"`
	Phase        Phase `json:"phase"`
}

type ProcessingState struct {
	IsLoading bool   `json:"is_loading"`
	Progress  *int   `json:"progress,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

// PageState is the authoritative shared state of one page.
type PageState struct {
	ImagePair
	ProcessingState
}
