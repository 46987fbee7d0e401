// Package report pushes final flash outcomes to a Feishu bitable so
// provisioning stations can track what left the bench. Reporting is strictly
// best-effort: a misconfigured or unreachable table never fails a session.
package report

import (
	"context"
	"net/url"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/CodeHedge/biscuit-flasher/internal/config"
)

// EnvReportBitableURL points at the result table; when empty, reporting is a
// no-op.
const EnvReportBitableURL = "FLASH_REPORT_BITABLE_URL"

// Row is one device's final outcome for the session.
type Row struct {
	Device          string
	Port            string
	Outcome         string
	FirmwareVersion string
	FlashedAt       time.Time
}

// Reporter publishes session outcomes.
type Reporter interface {
	Publish(ctx context.Context, rows []Row) error
}

// NoopReporter discards rows.
type NoopReporter struct{}

func (NoopReporter) Publish(context.Context, []Row) error { return nil }

// bitableRef locates one Feishu bitable table.
type bitableRef struct {
	AppToken string
	TableID  string
}

// parseBitableURL extracts the app token and table id from a Feishu bitable
// link of the form https://<host>/base/<appToken>?table=<tableID>.
func parseBitableURL(raw string) (bitableRef, error) {
	ref := bitableRef{}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ref, errors.Wrap(err, "parse bitable url failed")
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "base" {
			ref.AppToken = segments[i+1]
			break
		}
	}
	if ref.AppToken == "" && len(segments) > 0 {
		ref.AppToken = segments[len(segments)-1]
	}
	for _, key := range []string{"table", "tableId", "table_id"} {
		if v := strings.TrimSpace(u.Query().Get(key)); v != "" {
			ref.TableID = v
			break
		}
	}
	if ref.AppToken == "" || ref.TableID == "" {
		return ref, errors.New("bitable url missing app token or table id")
	}
	return ref, nil
}

// feishuReporter creates one bitable record per outcome row.
type feishuReporter struct {
	client *lark.Client
	ref    bitableRef
}

// NewReporterFromEnv builds a Reporter from environment variables.
//
// Environment:
//   - FLASH_REPORT_BITABLE_URL: target table; when empty, a no-op reporter
//     is returned.
//   - FEISHU_APP_ID / FEISHU_APP_SECRET: app credentials.
func NewReporterFromEnv() (Reporter, error) {
	rawURL := config.String(EnvReportBitableURL, "")
	if rawURL == "" {
		return NoopReporter{}, nil
	}
	ref, err := parseBitableURL(rawURL)
	if err != nil {
		return nil, err
	}
	appID := config.String("FEISHU_APP_ID", "")
	appSecret := config.String("FEISHU_APP_SECRET", "")
	if appID == "" || appSecret == "" {
		return nil, errors.New("report: FEISHU_APP_ID and FEISHU_APP_SECRET must be set when reporting is enabled")
	}
	client := lark.NewClient(appID, appSecret, lark.WithLogLevel(larkcore.LogLevelError))
	return &feishuReporter{client: client, ref: ref}, nil
}

func (r *feishuReporter) Publish(ctx context.Context, rows []Row) error {
	if r == nil || r.client == nil || len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		fields := map[string]interface{}{
			"Device":   row.Device,
			"Port":     row.Port,
			"Outcome":  row.Outcome,
			"Firmware": row.FirmwareVersion,
		}
		if !row.FlashedAt.IsZero() {
			fields["FlashedAt"] = row.FlashedAt.UnixMilli()
		}
		req := larkbitable.NewCreateAppTableRecordReqBuilder().
			AppToken(r.ref.AppToken).
			TableId(r.ref.TableID).
			AppTableRecord(larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()).
			Build()
		resp, err := r.client.Bitable.V1.AppTableRecord.Create(ctx, req)
		if err != nil {
			return errors.Wrapf(err, "report: create record for %s failed", row.Device)
		}
		if !resp.Success() {
			return errors.Errorf("report: create record for %s failed: %s", row.Device, resp.Msg)
		}
		log.Debug().Str("device", row.Device).Str("outcome", row.Outcome).Msg("flash outcome reported")
	}
	return nil
}
