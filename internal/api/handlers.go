package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Paused bool   `json:"paused"`
}

// InitializeRequest is the body of POST /initialize.
type InitializeRequest struct {
	Admin  model.Identity `json:"admin"`
	Name   string         `json:"name,omitempty"`
	Symbol string         `json:"symbol,omitempty"`
}

// MintRequest is the body of POST /assets.
type MintRequest struct {
	To     model.Identity `json:"to"`
	Handle model.Handle   `json:"tokenId"`
	ledger.Descriptive
}

// StateRequest is the body of POST /assets/{id}/state. ToState accepts the
// stage number or its name.
type StateRequest struct {
	ToState StageParam `json:"toState"`
	ledger.Environment
	Notes *string `json:"notes,omitempty"`
}

// TransferRequest is the body of POST /assets/{id}/transfer.
type TransferRequest struct {
	From model.Identity `json:"from"`
	To   model.Identity `json:"to"`
}

// ApproveRequest is the body of POST /assets/{id}/approve.
type ApproveRequest struct {
	Spender model.Identity `json:"spender"`
}

// OwnerResponse is returned by GET /assets/{id}/owner.
type OwnerResponse struct {
	Handle model.Handle   `json:"tokenId"`
	Owner  model.Identity `json:"owner"`
}

// BalanceResponse is returned by GET /accounts/{id}/balance.
type BalanceResponse struct {
	Account model.Identity `json:"account"`
	Balance uint64         `json:"balance"`
}

// RoleResponse describes one role flag.
type RoleResponse struct {
	Account model.Identity `json:"account"`
	Role    model.Role     `json:"role"`
	HasRole bool           `json:"hasRole"`
}

// WhitelistResponse describes one whitelist flag.
type WhitelistResponse struct {
	Account     model.Identity `json:"account"`
	Whitelisted bool           `json:"whitelisted"`
}

// StageParam is a target stage given as a number or a name. Numbers are not
// range checked here; the tracker rejects stages outside the lifecycle. A name
// that matches no stage is kept in Name.
type StageParam struct {
	Stage model.Stage
	Name  string
}

// StageOf wraps a known stage.
func StageOf(s model.Stage) StageParam { return StageParam{Stage: s} }

// MarshalJSON implements json.Marshaler.
func (p StageParam) MarshalJSON() ([]byte, error) {
	if p.Name != "" {
		return json.Marshal(p.Name)
	}
	return json.Marshal(uint32(p.Stage))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *StageParam) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n uint32
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("toState must be a stage number or name: %w", err)
		}
		*p = StageParam{Stage: model.Stage(n)}
		return nil
	}
	if n, err := strconv.ParseUint(strings.TrimSpace(name), 10, 32); err == nil {
		*p = StageParam{Stage: model.Stage(n)}
		return nil
	}
	if stage, err := model.ParseStage(name); err == nil {
		*p = StageParam{Stage: stage}
		return nil
	}
	*p = StageParam{Name: name}
	return nil
}

// unknownStage reports a target name outside the lifecycle. The pause gate
// still answers first, as it does inside the tracker.
func (s *Server) unknownStage(ctx context.Context, name string) error {
	paused, err := s.tracker.IsPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return tracker.ErrPaused
	}
	return fmt.Errorf("%w: unknown stage %q", tracker.ErrInvalidStateTransition, name)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	c, err := s.tracker.Collection(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	paused, err := s.tracker.IsPaused(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{Name: c.Name, Symbol: c.Symbol, Paused: paused})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req InitializeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Admin == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "admin is required"})
		return
	}
	if req.Name == "" {
		req.Name = s.cfg.CollectionName
	}
	if req.Symbol == "" {
		req.Symbol = s.cfg.CollectionSymbol
	}
	if err := s.tracker.Initialize(r.Context(), req.Admin, req.Name, req.Symbol); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, StatusResponse{Name: req.Name, Symbol: req.Symbol})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		pause := r.URL.Path == "/pause"
		var err error
		if pause {
			err = s.tracker.Pause(r.Context(), caller)
		} else {
			err = s.tracker.Unpause(r.Context(), caller)
		}
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"paused": pause})
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req MintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.To == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "to is required"})
		return
	}
	asset, err := s.tracker.Mint(r.Context(), req.To, req.Handle, req.Descriptive)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleAssetRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/assets/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	handle, err := parseHandle(parts[0])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(parts) == 1 {
		s.handleAsset(w, r, handle)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "history":
		s.handleHistory(w, r, handle)
	case len(parts) == 2 && parts[1] == "owner":
		s.handleOwner(w, r, handle)
	case len(parts) == 2 && parts[1] == "state":
		s.handleState(w, r, handle)
	case len(parts) == 2 && parts[1] == "metadata":
		s.handleMetadata(w, r, handle)
	case len(parts) == 2 && parts[1] == "transfer":
		s.handleTransfer(w, r, handle)
	case len(parts) == 2 && parts[1] == "approve":
		s.handleApprove(w, r, handle)
	case len(parts) == 2 && parts[1] == "lab-report":
		s.handleLabReportUpload(w, r, handle)
	case len(parts) == 4 && parts[1] == "lab-reports" && parts[3] == "text-url":
		s.handleLabReportURL(w, r, handle, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	asset, err := s.tracker.GetMetadata(r.Context(), handle)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.tracker.GetHistory(r.Context(), handle)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	owner, err := s.tracker.OwnerOf(r.Context(), handle)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, OwnerResponse{Handle: handle, Owner: owner})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		var req StateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ToState.Name != "" {
			respondError(w, s.unknownStage(r.Context(), req.ToState.Name))
			return
		}
		asset, err := s.tracker.UpdateState(r.Context(), caller, handle, req.ToState.Stage, req.Environment, req.Notes)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, asset)
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		var patch ledger.Patch
		if !decodeJSON(w, r, &patch) {
			return
		}
		asset, err := s.tracker.UpdateMetadata(r.Context(), caller, handle, patch)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, asset)
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		var req TransferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.From == "" {
			req.From = caller
		}
		asset, err := s.tracker.Transfer(r.Context(), caller, req.From, req.To, handle)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, asset)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, handle model.Handle) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.authenticated(w, r, func(caller model.Identity) {
		var req ApproveRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		asset, err := s.tracker.Approve(r.Context(), caller, req.Spender, handle)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, asset)
	})
}

func (s *Server) handleAccountRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/accounts/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	account := model.Identity(parts[0])
	switch {
	case len(parts) == 2 && parts[1] == "balance":
		s.handleBalance(w, r, account)
	case len(parts) == 2 && parts[1] == "whitelist":
		s.handleWhitelist(w, r, account)
	case len(parts) == 3 && parts[1] == "roles":
		role, err := model.ParseRole(parts[2])
		if err != nil {
			respondError(w, fmt.Errorf("%w: %v", tracker.ErrUnknownRole, err))
			return
		}
		s.handleRole(w, r, account, role)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, account model.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	n, err := s.tracker.BalanceOf(r.Context(), account)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: n})
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request, account model.Identity, role model.Role) {
	switch r.Method {
	case http.MethodGet:
		ok, err := s.tracker.HasRole(r.Context(), account, role)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, RoleResponse{Account: account, Role: role, HasRole: ok})
	case http.MethodPut, http.MethodDelete:
		s.authenticated(w, r, func(caller model.Identity) {
			grant := r.Method == http.MethodPut
			var err error
			if grant {
				err = s.tracker.GrantRole(r.Context(), caller, account, role)
			} else {
				err = s.tracker.RevokeRole(r.Context(), caller, account, role)
			}
			if err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, RoleResponse{Account: account, Role: role, HasRole: grant})
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request, account model.Identity) {
	switch r.Method {
	case http.MethodGet:
		ok, err := s.tracker.IsWhitelisted(r.Context(), account)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, WhitelistResponse{Account: account, Whitelisted: ok})
	case http.MethodPut, http.MethodDelete:
		s.authenticated(w, r, func(caller model.Identity) {
			add := r.Method == http.MethodPut
			var err error
			if add {
				err = s.tracker.AddToWhitelist(r.Context(), caller, account)
			} else {
				err = s.tracker.RemoveFromWhitelist(r.Context(), caller, account)
			}
			if err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, WhitelistResponse{Account: account, Whitelisted: add})
		})
	default:
		methodNotAllowed(w)
	}
}
