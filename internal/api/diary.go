package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/yuin/goldmark"
)

// handleDiary renders the recent diary as an HTML page.
func (s *Server) handleDiary(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 30)
	md := s.state.RecentDiaryMarkdown(n)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		s.logger.Error("render diary", "error", err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Geny's Diary</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em; margin: 2em auto;">
%s
</body></html>`, buf.String())
}
