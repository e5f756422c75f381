package db

import (
	"testing"

	"gorm.io/datatypes"

	"github.com/probegate/probegate/internal/models"
)

func TestDialectName_SQLite(t *testing.T) {
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
}

func TestJSONArrayNotEmptyExpr_FiltersEmptyAndNull(t *testing.T) {
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	channel := models.Channel{Name: "acme", BaseURL: "https://api.acme.test", Credential: "K", Enabled: true}
	if err := conn.Create(&channel).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}

	probed := models.Model{ChannelID: channel.ID, Name: "probed", LastStatus: models.ModelStatusReachable}
	probed.DetectedEndpoints = probed.WithEndpoint("CHAT")
	fresh := models.Model{ChannelID: channel.ID, Name: "fresh", LastStatus: models.ModelStatusUnknown}
	emptied := models.Model{
		ChannelID: channel.ID, Name: "emptied", LastStatus: models.ModelStatusUnknown,
		DetectedEndpoints: datatypes.JSON("[]"),
	}
	for _, m := range []*models.Model{&probed, &fresh, &emptied} {
		if err := conn.Create(m).Error; err != nil {
			t.Fatalf("create model %q: %v", m.Name, err)
		}
	}

	var names []string
	if err := conn.Model(&models.Model{}).
		Where(JSONArrayNotEmptyExpr(conn, "detected_endpoints")).
		Pluck("name", &names).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(names) != 1 || names[0] != "probed" {
		t.Fatalf("expected only the probed model to match, got %v", names)
	}
}
