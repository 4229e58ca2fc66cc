package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/util"
)

const codeAssistEndpoint = "https://cloudcode-pa.googleapis.com/v1internal"

// clientMetadata identifies the calling surface to the Code Assist API.
var clientMetadata = map[string]any{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// DiscoverProject resolves the Cloud AI Companion project ID for a Google
// account, onboarding the user onto the default tier when needed.
func DiscoverProject(ctx context.Context, proxyURL, accessToken, preferredProjectID string) (string, error) {
	loadBody := map[string]any{"metadata": clientMetadata}
	if preferredProjectID != "" {
		loadBody["cloudaicompanionProject"] = preferredProjectID
	}
	var loadResp map[string]any
	if err := callCodeAssist(ctx, proxyURL, accessToken, "loadCodeAssist", loadBody, &loadResp); err != nil {
		return "", fmt.Errorf("failed to load code assist: %w", err)
	}

	projectID := preferredProjectID
	if p, ok := loadResp["cloudaicompanionProject"].(string); ok && p != "" {
		projectID = p
	}

	tierID := "legacy-tier"
	if tiers, ok := loadResp["allowedTiers"].([]any); ok {
		for _, t := range tiers {
			tier, tierOK := t.(map[string]any)
			if !tierOK {
				continue
			}
			if isDefault, _ := tier["isDefault"].(bool); isDefault {
				if id, idOK := tier["id"].(string); idOK {
					tierID = id
				}
				break
			}
		}
	}
	if projectID == "" {
		return "", fmt.Errorf("no project id available for onboarding")
	}

	onboardBody := map[string]any{
		"tierId":                  tierID,
		"metadata":                clientMetadata,
		"cloudaicompanionProject": projectID,
	}
	for {
		var lro map[string]any
		if err := callCodeAssist(ctx, proxyURL, accessToken, "onboardUser", onboardBody, &lro); err != nil {
			return "", fmt.Errorf("failed to onboard user: %w", err)
		}
		if done, _ := lro["done"].(bool); done {
			if response, ok := lro["response"].(map[string]any); ok {
				if project, projectOK := response["cloudaicompanionProject"].(map[string]any); projectOK {
					if id, idOK := project["id"].(string); idOK && id != "" {
						return id, nil
					}
				}
			}
			return projectID, nil
		}
		log.Debug("onboarding in progress, waiting")
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func callCodeAssist(ctx context.Context, proxyURL, accessToken, method string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		codeAssistEndpoint+":"+method, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := util.RefreshClient(proxyURL).Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, result)
}
