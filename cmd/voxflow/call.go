package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "call <phone-number>",
		Short: "Place one outbound call through a running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return placeCall(gatewayURL, args[0])
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:8080", "gateway base URL")
	return cmd
}

func placeCall(gatewayURL, phone string) error {
	body, err := json.Marshal(map[string]string{"phone_number": phone})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(gatewayURL+"/outbound/makecall", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status  string `json:"status"`
		CallSID string `json:"call_sid"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, result.Error)
	}

	fmt.Printf("Call placed: %s\n", result.CallSID)
	return nil
}
