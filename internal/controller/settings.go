package controller

import (
	"encoding/json"
	"net/http"
	"strings"

	"example.com/treefleet/internal/db"
	"golang.org/x/crypto/ssh"
)

type installDefaultsResponse struct {
	*db.InstallConfig
	SSHPublicKey string `json:"ssh_public_key"`
}

// publicKey derives the authorized_keys line for a private key, or "" when
// the key does not parse.
func publicKey(privateKey string) string {
	signer, err := ssh.ParsePrivateKey([]byte(strings.TrimSpace(privateKey)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
}

func (c *Controller) GetInstallDefaults(w http.ResponseWriter, r *http.Request) {
	cfg, err := c.DB.GetDefaultInstallConfig(r.Context())
	if err != nil {
		c.log.Error().Err(err).Msg("get install defaults")
		respondError(w, http.StatusInternalServerError, "failed to load defaults")
		return
	}
	resp := &installDefaultsResponse{InstallConfig: cfg}
	if cfg != nil && cfg.SSHKey != "" {
		resp.SSHPublicKey = publicKey(cfg.SSHKey)
	}
	respondJSON(w, http.StatusOK, map[string]*installDefaultsResponse{"install_config": resp})
}

func (c *Controller) UpdateInstallDefaults(w http.ResponseWriter, r *http.Request) {
	var req installDefaultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid install defaults")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := req.toInstallConfig()
	if err := c.DB.SaveDefaultInstallConfig(r.Context(), cfg); err != nil {
		c.log.Error().Err(err).Msg("update install defaults")
		respondError(w, http.StatusInternalServerError, "failed to save defaults")
		return
	}
	respondJSON(w, http.StatusOK, map[string]*db.InstallConfig{"install_config": &cfg})
}
