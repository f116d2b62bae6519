package httpserver

import (
	"net/http"

	"fileroom/internal/fileops"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ents, err := s.files.List(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, ents)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string       `json:"path"`
		Type fileops.Kind `json:"type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Type.Valid() {
		badRequest(w, r, `type must be "file" or "folder"`)
		return
	}
	if err := s.files.Create(r.Context(), req.Path, req.Type); err != nil {
		writeError(w, r, err)
		return
	}
	msg := "file created"
	if req.Type == fileops.KindFolder {
		msg = "folder created"
	}
	writeJSON(w, messageResponse{Message: msg})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	_, st, err := s.files.Stat(r.Context(), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.files.Delete(r.Context(), rel); err != nil {
		writeError(w, r, err)
		return
	}
	msg := "file deleted"
	if st.IsDir() {
		msg = "folder deleted"
	}
	writeJSON(w, messageResponse{Message: msg})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	newRel, err := s.files.Rename(r.Context(), req.Path, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Message string `json:"message"`
		Path    string `json:"path"`
	}{Message: "renamed", Path: newRel})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.files.Notes(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, messageResponse{Message: notes})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.files.Search(r.Context(), q.Get("path"), q.Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}
