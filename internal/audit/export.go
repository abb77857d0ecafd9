package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports events as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports events as JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures audit export parameters.
type ExportOptions struct {
	Format      ExportFormat // Export format (csv or json)
	From        time.Time    // Start of time range (inclusive)
	To          time.Time    // End of time range (inclusive)
	RecipientID string       // Filter by recipient (optional)
	Limit       int          // Maximum number of entries to export (0 = no limit)
}

// Export renders events in the requested format after applying filters.
func Export(events []*Event, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	var filtered []*Event
	for _, e := range SortChronological(events) {
		if opts.RecipientID != "" && e.RecipientID != opts.RecipientID {
			continue
		}
		if !opts.From.IsZero() && e.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && e.CreatedAt.After(opts.To) {
			continue
		}
		filtered = append(filtered, e)
	}

	// Apply limit after filtering to get correct number of results
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	if opts.Format == ExportFormatCSV {
		return exportToCSV(filtered)
	}
	return exportToJSON(filtered)
}

func exportToCSV(events []*Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Sequence",
		"ID",
		"Timestamp (UTC)",
		"Event",
		"Recipient ID",
		"Signer Name",
		"Signer Email",
		"IP Address",
		"User Agent",
		"Device",
		"City",
		"Country",
		"Consent",
		"Document Hash",
		"Document Version",
		"Auth Method",
		"Previous Hash",
		"Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.Sequence, 10),
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			string(e.Type),
			e.RecipientID,
			e.SignerName,
			e.SignerEmail,
			e.IPAddress,
			e.UserAgent,
			e.Device.String(),
			e.Geo.City,
			e.Geo.Country,
			strconv.FormatBool(e.Consent),
			e.DocumentHash,
			e.DocumentVersion,
			e.AuthMethod,
			e.PreviousHash,
			e.Hash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func exportToJSON(events []*Event) ([]byte, error) {
	type exportEvent struct {
		Sequence        int64             `json:"sequence"`
		ID              string            `json:"id"`
		Timestamp       string            `json:"timestamp"` // RFC 3339
		Type            string            `json:"event_type"`
		RecipientID     string            `json:"recipient_id,omitempty"`
		Details         map[string]string `json:"details,omitempty"`
		SignerName      string            `json:"signer_name,omitempty"`
		SignerEmail     string            `json:"signer_email,omitempty"`
		IPAddress       string            `json:"ip_address,omitempty"`
		UserAgent       string            `json:"user_agent,omitempty"`
		Device          DeviceInfo        `json:"device"`
		Geo             Geo               `json:"geo"`
		Consent         bool              `json:"consent"`
		ConsentAt       *time.Time        `json:"consent_at,omitempty"`
		SignedAt        *time.Time        `json:"signed_at,omitempty"`
		DocumentHash    string            `json:"document_hash,omitempty"`
		DocumentVersion string            `json:"document_version,omitempty"`
		AuthMethod      string            `json:"auth_method,omitempty"`
		Metadata        map[string]string `json:"metadata,omitempty"`
		PreviousHash    string            `json:"previous_hash,omitempty"`
		Hash            string            `json:"hash"`
	}

	out := make([]exportEvent, len(events))
	for i, e := range events {
		out[i] = exportEvent{
			Sequence:        e.Sequence,
			ID:              e.ID,
			Timestamp:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
			Type:            string(e.Type),
			RecipientID:     e.RecipientID,
			Details:         e.Details,
			SignerName:      e.SignerName,
			SignerEmail:     e.SignerEmail,
			IPAddress:       e.IPAddress,
			UserAgent:       e.UserAgent,
			Device:          e.Device,
			Geo:             e.Geo,
			Consent:         e.Consent,
			ConsentAt:       e.ConsentAt,
			SignedAt:        e.SignedAt,
			DocumentHash:    e.DocumentHash,
			DocumentVersion: e.DocumentVersion,
			AuthMethod:      e.AuthMethod,
			Metadata:        e.Metadata,
			PreviousHash:    e.PreviousHash,
			Hash:            e.Hash,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
