package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"daobackend/store"
)

// daoCreateRequest is the DAO-creation webhook body, per §6: one DAO record,
// a set of contracts (exactly one of which is the governance token), and the
// token's metadata.
type daoCreateRequest struct {
	Name        string            `json:"name"`
	Mission     string            `json:"mission"`
	Description string            `json:"description"`
	Contracts   []contractPayload `json:"contracts"`
	TokenInfo   tokenInfoPayload  `json:"token_info"`
}

type contractPayload struct {
	Type              string `json:"type"`
	Subtype           string `json:"subtype"`
	ContractPrincipal string `json:"contract_principal"`
	TxID              string `json:"tx_id"`
}

type tokenInfoPayload struct {
	Symbol    string `json:"symbol"`
	Decimals  int    `json:"decimals"`
	MaxSupply string `json:"max_supply"`
	URI       string `json:"uri"`
	ImageURL  string `json:"image_url"`
}

type daoCreateResponse struct {
	DAOID        uint64   `json:"dao_id"`
	TokenID      uint64   `json:"token_id"`
	ExtensionIDs []uint64 `json:"extension_ids"`
}

const (
	contractTypeToken    = "TOKEN"
	contractSubtypeToken = "DAO"
)

var errNoTokenContract = errors.New("webhook: contracts must include exactly one type=TOKEN, subtype=DAO entry")

// handleDAOCreate implements the outbound-use DAO-creation webhook contract
// from §6: it creates the DAO row, the governance token (the TOKEN/DAO
// contract), and one Extension per remaining contract.
func (s *Server) handleDAOCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		s.writeError(r, w, http.StatusBadRequest, "body_too_large", err)
		return
	}
	defer r.Body.Close()

	var req daoCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(r, w, http.StatusBadRequest, "malformed_payload", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(r, w, http.StatusBadRequest, "malformed_payload", errors.New("webhook: name is required"))
		return
	}

	tokenContract, extensionContracts, err := splitContracts(req.Contracts)
	if err != nil {
		s.writeError(r, w, http.StatusBadRequest, "malformed_payload", err)
		return
	}

	ctx := r.Context()
	dao := &store.DAO{
		Name:        req.Name,
		Mission:     req.Mission,
		Description: req.Description,
	}
	if err := s.store.CreateDAO(ctx, dao); err != nil {
		s.writeError(r, w, http.StatusInternalServerError, "store_error", err)
		return
	}

	token := &store.Token{
		DAOID:             dao.ID,
		ContractPrincipal: tokenContract.ContractPrincipal,
		Symbol:            req.TokenInfo.Symbol,
		Decimals:          req.TokenInfo.Decimals,
		MaxSupply:         req.TokenInfo.MaxSupply,
		URI:               req.TokenInfo.URI,
		ImageURL:          req.TokenInfo.ImageURL,
		Status:            store.ExtensionPending,
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		s.writeError(r, w, http.StatusInternalServerError, "store_error", err)
		return
	}

	extensionIDs := make([]uint64, 0, len(extensionContracts))
	for _, c := range extensionContracts {
		ext := &store.Extension{
			DAOID:             dao.ID,
			Type:              c.Type,
			Subtype:           c.Subtype,
			ContractPrincipal: c.ContractPrincipal,
			DeploymentTxID:    c.TxID,
			Status:            store.ExtensionPending,
		}
		if err := s.store.CreateExtension(ctx, ext); err != nil {
			s.writeError(r, w, http.StatusInternalServerError, "store_error", err)
			return
		}
		extensionIDs = append(extensionIDs, ext.ID)
	}

	s.writeJSON(w, http.StatusOK, daoCreateResponse{
		DAOID:        dao.ID,
		TokenID:      token.ID,
		ExtensionIDs: extensionIDs,
	})
}

// splitContracts pulls out the single TOKEN/DAO contract from the request's
// contract list, leaving the rest to become Extension rows.
func splitContracts(contracts []contractPayload) (contractPayload, []contractPayload, error) {
	var token *contractPayload
	rest := make([]contractPayload, 0, len(contracts))
	for i := range contracts {
		c := contracts[i]
		if strings.EqualFold(c.Type, contractTypeToken) && strings.EqualFold(c.Subtype, contractSubtypeToken) {
			if token != nil {
				return contractPayload{}, nil, errNoTokenContract
			}
			tokenCopy := c
			token = &tokenCopy
			continue
		}
		rest = append(rest, c)
	}
	if token == nil {
		return contractPayload{}, nil, errNoTokenContract
	}
	return *token, rest, nil
}
