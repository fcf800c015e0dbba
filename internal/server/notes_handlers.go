package server

import (
	"net/http"
	"time"

	"github.com/agora-labs/agora/internal/notes"
	"github.com/gin-gonic/gin"
)

type createNotePayload struct {
	Topic   string  `json:"topic" binding:"required,min=1,max=100"`
	Content string  `json:"content" binding:"required,min=1,max=5000"`
	Author  *string `json:"author" binding:"omitnil,max=50"`
}

type updateNotePayload struct {
	Topic   *string `json:"topic" binding:"omitnil,min=1,max=100"`
	Content *string `json:"content" binding:"omitnil,min=1,max=5000"`
	Author  *string `json:"author" binding:"omitnil,max=50"`
}

type listNotesQuery struct {
	Topic  string `form:"topic"`
	Author string `form:"author"`
	Search string `form:"search"`
}

type noteResponse struct {
	ID        uint64    `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Votes     int64     `json:"votes"`
	Pinned    bool      `json:"pinned"`
}

func newNoteResponse(note notes.Note) noteResponse {
	return noteResponse{
		ID:        note.ID,
		Topic:     note.Topic,
		Content:   note.Content,
		Author:    note.Author,
		CreatedAt: note.CreatedAt.UTC(),
		Votes:     note.Votes,
		Pinned:    note.Pinned,
	}
}

func newNoteResponses(items []notes.Note) []noteResponse {
	responses := make([]noteResponse, 0, len(items))
	for _, note := range items {
		responses = append(responses, newNoteResponse(note))
	}
	return responses
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var payload createNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBindingError(c, err)
		return
	}

	note, err := h.notesService.Create(c.Request.Context(), notes.CreateRequest{
		Topic:   payload.Topic,
		Content: payload.Content,
		Author:  payload.Author,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNoteResponse(note))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	var query listNotesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}

	items, err := h.notesService.List(c.Request.Context(), notes.ListFilter{
		Topic:  query.Topic,
		Author: query.Author,
		Search: query.Search,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponses(items))
}

func (h *httpHandler) handleTopNotes(c *gin.Context) {
	items, err := h.notesService.Top(c.Request.Context(), notes.DefaultTopLimit)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponses(items))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	id, ok := h.noteID(c)
	if !ok {
		return
	}
	note, err := h.notesService.Get(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	id, ok := h.noteID(c)
	if !ok {
		return
	}
	var payload updateNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBindingError(c, err)
		return
	}

	note, err := h.notesService.Update(c.Request.Context(), id, notes.UpdateRequest{
		Topic:   payload.Topic,
		Content: payload.Content,
		Author:  payload.Author,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handlePinNote(c *gin.Context) {
	id, ok := h.noteID(c)
	if !ok {
		return
	}
	note, err := h.notesService.Pin(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleVoteNote(c *gin.Context) {
	id, ok := h.noteID(c)
	if !ok {
		return
	}
	note, err := h.notesService.Vote(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	id, ok := h.noteID(c)
	if !ok {
		return
	}
	if err := h.notesService.Delete(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Note deleted successfully"})
}

func (h *httpHandler) noteID(c *gin.Context) (notes.NoteID, bool) {
	id, err := notes.ParseNoteID(c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return 0, false
	}
	return id, true
}
