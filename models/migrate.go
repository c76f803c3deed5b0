package models

import (
	"log"
	"os"
	"strings"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
)

// MigrateTable migrates owned tables, seeds the known locations and installs
// the lifecycle recompute procedure.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Printf("MigrateTable: db is nil; skipping")
		return
	}

	err := db.AutoMigrate(
		&SyncLog{},
		&Client{},
		&Appointment{},
		&AppointmentService{},
		&Membership{},
		&Member{},
		&Provider{},
		&Location{},
	)
	if err != nil {
		log.Printf("AutoMigrate: %v", err)
	}

	seedLocations()
	installLifecycleProcedure()
}

// seedLocations inserts the known locations when the table is empty. The
// external ids come from env so staging and production can point at different
// upstream businesses; keys and order are fixed.
func seedLocations() {
	db := config.GetDB()

	var count int64
	if err := db.Model(&Location{}).Count(&count).Error; err != nil || count > 0 {
		return
	}

	seeds := []Location{
		{ExternalId: envOr("BLOOM_LOCATION_ID_CARMEL", "loc-carmel"), Key: "carmel", Name: "Carmel", Position: 0},
		{ExternalId: envOr("BLOOM_LOCATION_ID_WESTFIELD", "loc-westfield"), Key: "westfield", Name: "Westfield", Position: 1},
		{ExternalId: envOr("BLOOM_LOCATION_ID_FISHERS", "loc-fishers"), Key: "fishers", Name: "Fishers", Position: 2},
	}
	for _, seed := range seeds {
		if err := db.Create(&seed).Error; err != nil {
			log.Printf("seed location %s: %v", seed.Key, err)
		}
	}
}

func envOr(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// installLifecycleProcedure (re)creates the stored procedure the derived-state
// recomputer calls with comma-separated id batches of at most 50.
func installLifecycleProcedure() {
	db := config.GetDB()

	if err := db.Exec("DROP PROCEDURE IF EXISTS recompute_client_lifecycle").Error; err != nil {
		log.Printf("drop lifecycle procedure: %v", err)
		return
	}

	proc := `
CREATE PROCEDURE recompute_client_lifecycle(IN client_ids TEXT)
BEGIN
	UPDATE clients c
	LEFT JOIN (
		SELECT client_id,
			   MAX(start_at) AS last_visit,
			   COUNT(*) AS visit_count
		FROM appointments
		WHERE status = 'completed' AND client_id IS NOT NULL
		GROUP BY client_id
	) a ON a.client_id = c.id
	LEFT JOIN (
		SELECT client_id
		FROM memberships
		WHERE status = 'active' AND client_id IS NOT NULL
		GROUP BY client_id
	) m ON m.client_id = c.id
	SET c.lifecycle_stage = CASE
			WHEN m.client_id IS NOT NULL THEN 'member'
			WHEN a.client_id IS NULL THEN 'lead'
			WHEN a.visit_count = 1 AND a.last_visit >= DATE_SUB(NOW(), INTERVAL 45 DAY) THEN 'new'
			WHEN a.last_visit >= DATE_SUB(NOW(), INTERVAL 60 DAY) THEN 'active'
			WHEN a.last_visit >= DATE_SUB(NOW(), INTERVAL 120 DAY) THEN 'at_risk'
			ELSE 'lapsed'
		END,
		c.lifecycle_updated_at = NOW()
	WHERE FIND_IN_SET(c.id, client_ids) > 0;
END`

	if err := db.Exec(proc).Error; err != nil {
		log.Printf("create lifecycle procedure: %v", err)
	}
}
