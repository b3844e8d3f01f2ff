package rpcserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/web3-fighter/svm-mock-engine/internal/auth"
	"github.com/web3-fighter/svm-mock-engine/internal/blockproducer"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// UpgradeableLoaderID is the native loader an uploaded program is owned
// by, matching the "loaderVersion 3" entry programcache.Build assembles.
var UpgradeableLoaderID = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

// nativeLoaderID owns the loader account itself, mirroring how Solana's
// runtime owns BPFLoaderUpgradeab1e... programcache.Build never checks a
// loader's own owner, only that it is Executable, so any stable address
// works here.
var nativeLoaderID = solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111")

// Management wires the blockchain and program lifecycle endpoints
// (spec.md §6 "Management surface") on top of the store and block
// producer.
type Management struct {
	Store           *storage.Tagged
	Producer        *blockproducer.Producer
	GenesisLamports uint64 // lamports seeded into a fresh tenant's airdrop keypair so it can fund requestAirdrop transfers
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func teamFromRequest(r *http.Request) (string, error) {
	return auth.Team(r.Header.Get("api_key"))
}

// Handlers builds the ManagementHandlers the Server dispatches to.
func (m *Management) Handlers() ManagementHandlers {
	return ManagementHandlers{
		CreateBlockchain: m.createBlockchain,
		ListBlockchains:  m.listBlockchains,
		DeleteAll:        m.deleteAll,
		DeleteOne:        m.deleteOne,
		UploadProgram:    m.uploadProgram,
	}
}

// createBlockchain provisions a tenant: a fresh id, a server-held airdrop
// keypair, and a genesis block (spec.md §6 "POST /blockchains (create)").
func (m *Management) createBlockchain(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromRequest(r)
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}

	t := tenant.New()
	airdropKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to generate airdrop keypair")
		return
	}

	ctx := r.Context()
	genesisBlock, err := m.Producer.Genesis(ctx, t)
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to produce genesis block: "+err.Error())
		return
	}

	rec := &domain.TenantRecord{
		ID:             t,
		Team:           team,
		AirdropPubkey:  airdropKey.PublicKey(),
		AirdropPrivate: airdropKey,
		GenesisHash:    genesisBlock.Blockhash,
	}
	if err := m.Store.CreateTenant(ctx, rec); err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to register blockchain: "+err.Error())
		return
	}

	airdropAccount := &domain.Account{Lamports: m.GenesisLamports, Owner: solana.SystemProgramID}
	if err := m.Store.UpsertAccounts(ctx, t, map[solana.PublicKey]*domain.Account{airdropKey.PublicKey(): airdropAccount}); err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to fund airdrop account: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tenant": t.String(),
		"url":    "/rpc/" + t.String(),
	})
}

// listBlockchains returns every tenant the authenticated team owns
// (spec.md §6 "GET /blockchains (list URLs)").
func (m *Management) listBlockchains(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromRequest(r)
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}
	recs, err := m.Store.TenantsForTeam(r.Context(), team)
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	urls := make([]string, len(recs))
	for i, rec := range recs {
		urls[i] = "/rpc/" + rec.ID.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blockchains": urls})
}

// deleteAll tears down every blockchain the authenticated team owns
// (spec.md §6 "DELETE /blockchains (delete all for team)").
func (m *Management) deleteAll(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromRequest(r)
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ctx := r.Context()
	recs, err := m.Store.TenantsForTeam(ctx, team)
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rec := range recs {
		if err := m.Store.DeleteTenant(ctx, rec.ID); err != nil {
			log.Error("rpcserver: failed to delete tenant", "tenant", rec.ID, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Management) deleteOne(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Parse(chi.URLParam(r, "tenant"))
	if err != nil {
		writeHTTPError(w, http.StatusNotFound, "unknown blockchain")
		return
	}
	if err := auth.Authorize(r.Context(), m.Store, r.Header.Get("api_key"), t); err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := m.Store.DeleteTenant(r.Context(), t); err != nil {
		writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadProgram seeds a fake on-chain program: an executable account at
// program_id, owned by the upgradeable loader, holding the uploaded bytes
// (spec.md §6 "POST /programs/{tenant} (multipart: program_id, program
// bytes)"). The loader address itself is seeded as an executable account
// too, since programcache.Build requires the owner of an executable
// program to resolve to an executable native loader account.
func (m *Management) uploadProgram(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Parse(chi.URLParam(r, "tenant"))
	if err != nil {
		writeHTTPError(w, http.StatusNotFound, "unknown blockchain")
		return
	}
	if err := auth.Authorize(r.Context(), m.Store, r.Header.Get("api_key"), t); err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "malformed multipart body: "+err.Error())
		return
	}
	programIDStr := r.FormValue("program_id")
	if programIDStr == "" {
		writeHTTPError(w, http.StatusBadRequest, "program_id is required")
		return
	}
	programID, err := solana.PublicKeyFromBase58(programIDStr)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "malformed program_id: "+err.Error())
		return
	}
	file, _, err := r.FormFile("program")
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "program file is required: "+err.Error())
		return
	}
	defer file.Close()

	const maxProgramSize = 10 << 20
	data, err := io.ReadAll(io.LimitReader(file, maxProgramSize+1))
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "failed to read program: "+err.Error())
		return
	}
	if len(data) > maxProgramSize {
		writeHTTPError(w, http.StatusBadRequest, "program exceeds maximum size")
		return
	}

	ctx := r.Context()
	if err := m.ensureLoaderAccount(ctx, t); err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to seed native loader: "+err.Error())
		return
	}

	programAccount := &domain.Account{
		Lamports:   1,
		Data:       data,
		Owner:      UpgradeableLoaderID,
		Executable: true,
		Label:      "uploaded-program",
	}
	err = m.Store.UpsertAccounts(ctx, t, map[solana.PublicKey]*domain.Account{programID: programAccount})
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "failed to store program: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"program_id": programID.String(), "size": len(data)})
}

func (m *Management) ensureLoaderAccount(ctx context.Context, t tenant.ID) error {
	existing, err := m.Store.GetAccount(ctx, t, UpgradeableLoaderID)
	if err == nil && !existing.IsAbsent() {
		return nil
	}
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	loaderAccount := &domain.Account{
		Lamports:   1,
		Owner:      nativeLoaderID,
		Executable: true,
		Label:      "native-loader",
	}
	return m.Store.UpsertAccounts(ctx, t, map[solana.PublicKey]*domain.Account{UpgradeableLoaderID: loaderAccount})
}
