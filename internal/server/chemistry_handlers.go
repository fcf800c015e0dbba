package server

import (
	"net/http"

	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/gin-gonic/gin"
)

type pageQuery struct {
	Skip  int `form:"skip" binding:"gte=0"`
	Limit int `form:"limit,default=100" binding:"gte=1,lte=1000"`
}

func (q pageQuery) page() chemistry.Page {
	return chemistry.Page{Skip: q.Skip, Limit: q.Limit}
}

type listAtomsQuery struct {
	pageQuery
	Symbol string `form:"symbol"`
}

type listMoleculesQuery struct {
	pageQuery
	Name    string `form:"name"`
	Formula string `form:"formula"`
}

type listReactionsQuery struct {
	pageQuery
	ReactionType string `form:"reaction_type"`
}

type reactionsByMoleculeQuery struct {
	Role string `form:"role" binding:"omitempty,oneof=reactant product"`
}

type updateAtomPayload struct {
	Symbol       *string  `json:"symbol" binding:"omitnil,min=1,max=5"`
	Name         *string  `json:"name" binding:"omitnil,max=100"`
	AtomicNumber *int     `json:"atomic_number" binding:"omitnil,gt=0"`
	AtomicMass   *float64 `json:"atomic_mass" binding:"omitnil,gt=0"`
}

type updateMoleculePayload struct {
	Name    *string `json:"name" binding:"omitnil,max=200"`
	Formula *string `json:"formula" binding:"omitnil,max=500"`
}

type updateReactionPayload struct {
	Description  *string `json:"description"`
	ReactionType *string `json:"reaction_type" binding:"omitnil,max=100"`
}

func (h *httpHandler) handleAuthTest(c *gin.Context) {
	identity, _ := identityFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          identity.Name,
		"role":          identity.Role,
		"message":       "Authentication successful",
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	identity, _ := identityFromContext(c)
	stats, err := h.chemistryService.Stats(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":            identity.Name,
		"role":            identity.Role,
		"atoms_count":     stats.Atoms,
		"molecules_count": stats.Molecules,
		"reactions_count": stats.Reactions,
		"api_version":     apiVersion,
	})
}

func (h *httpHandler) handleListAtoms(c *gin.Context) {
	var query listAtomsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	atoms, err := h.chemistryService.ListAtoms(c.Request.Context(), chemistry.AtomFilter{
		Symbol: query.Symbol,
		Page:   query.page(),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, atoms)
}

func (h *httpHandler) handleGetAtom(c *gin.Context) {
	id, ok := h.chemistryID(c, "atom")
	if !ok {
		return
	}
	atom, err := h.chemistryService.GetAtom(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, atom)
}

func (h *httpHandler) handleUpdateAtom(c *gin.Context) {
	id, ok := h.chemistryID(c, "atom")
	if !ok {
		return
	}
	var payload updateAtomPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBindingError(c, err)
		return
	}
	atom, err := h.chemistryService.UpdateAtom(c.Request.Context(), id, chemistry.AtomUpdate{
		Symbol:       payload.Symbol,
		Name:         payload.Name,
		AtomicNumber: payload.AtomicNumber,
		AtomicMass:   payload.AtomicMass,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, atom)
}

func (h *httpHandler) handleListMolecules(c *gin.Context) {
	var query listMoleculesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	molecules, err := h.chemistryService.ListMolecules(c.Request.Context(), chemistry.MoleculeFilter{
		Name:    query.Name,
		Formula: query.Formula,
		Page:    query.page(),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, molecules)
}

func (h *httpHandler) handleGetMolecule(c *gin.Context) {
	id, ok := h.chemistryID(c, "molecule")
	if !ok {
		return
	}
	molecule, err := h.chemistryService.GetMolecule(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, molecule)
}

func (h *httpHandler) handleMoleculeComposition(c *gin.Context) {
	id, ok := h.chemistryID(c, "molecule")
	if !ok {
		return
	}
	composition, err := h.chemistryService.MoleculeComposition(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, composition)
}

func (h *httpHandler) handleMoleculesByAtom(c *gin.Context) {
	result, err := h.chemistryService.MoleculesContainingAtom(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleUpdateMolecule(c *gin.Context) {
	id, ok := h.chemistryID(c, "molecule")
	if !ok {
		return
	}
	var payload updateMoleculePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBindingError(c, err)
		return
	}
	molecule, err := h.chemistryService.UpdateMolecule(c.Request.Context(), id, chemistry.MoleculeUpdate{
		Name:    payload.Name,
		Formula: payload.Formula,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, molecule)
}

func (h *httpHandler) handleListReactions(c *gin.Context) {
	var query listReactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	reactions, err := h.chemistryService.ListReactions(c.Request.Context(), chemistry.ReactionFilter{
		Type: query.ReactionType,
		Page: query.page(),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reactions)
}

func (h *httpHandler) handleReactionTypes(c *gin.Context) {
	types, err := h.chemistryService.ReactionTypes(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

func (h *httpHandler) handleGetReaction(c *gin.Context) {
	id, ok := h.chemistryID(c, "reaction")
	if !ok {
		return
	}
	reaction, err := h.chemistryService.GetReaction(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reaction)
}

func (h *httpHandler) handleReactionParticipants(c *gin.Context) {
	id, ok := h.chemistryID(c, "reaction")
	if !ok {
		return
	}
	participants, err := h.chemistryService.ReactionParticipants(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, participants)
}

func (h *httpHandler) handleReactionsByMolecule(c *gin.Context) {
	id, ok := h.chemistryID(c, "molecule")
	if !ok {
		return
	}
	var query reactionsByMoleculeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBindingError(c, err)
		return
	}
	result, err := h.chemistryService.ReactionsInvolvingMolecule(c.Request.Context(), id, chemistry.Role(query.Role))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleUpdateReaction(c *gin.Context) {
	id, ok := h.chemistryID(c, "reaction")
	if !ok {
		return
	}
	var payload updateReactionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBindingError(c, err)
		return
	}
	reaction, err := h.chemistryService.UpdateReaction(c.Request.Context(), id, chemistry.ReactionUpdate{
		Description:  payload.Description,
		ReactionType: payload.ReactionType,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reaction)
}

func (h *httpHandler) chemistryID(c *gin.Context, entity string) (uint64, bool) {
	id, err := chemistry.ParseID(entity, c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return 0, false
	}
	return id, true
}
