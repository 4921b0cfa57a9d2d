package database

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

// InventoryDocument is one system and its findings in an inventory seed file
type InventoryDocument struct {
	System          entity.System            `yaml:"system"`
	Assets          []*entity.Asset          `yaml:"assets"`
	Vulnerabilities []*entity.Vulnerability  `yaml:"vulnerabilities"`
	Controls        []*entity.Control        `yaml:"controls"`
	PatchStatus     *entity.PatchStatus      `yaml:"patch_status"`
	Continuity      *entity.ContinuityStatus `yaml:"continuity"`
}

// InventoryFile is the seed format for the memory inventory
type InventoryFile struct {
	Systems []InventoryDocument `yaml:"systems"`
}

// LoadInventoryFile seeds a MemoryInventory from YAML. Child records inherit
// the system id of their document.
func LoadInventoryFile(path string) (*MemoryInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var file InventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	inv := NewMemoryInventory()
	for i, doc := range file.Systems {
		id := doc.System.ID
		if id == "" {
			return nil, fmt.Errorf("system %d: id is required", i)
		}
		if doc.System.Criticality == "" {
			doc.System.Criticality = entity.CriticalityModerate
		}
		inv.PutSystem(&doc.System)

		for _, a := range doc.Assets {
			a.SystemID = id
		}
		inv.PutAssets(id, doc.Assets...)

		for _, v := range doc.Vulnerabilities {
			v.SystemID = id
			if v.Status == "" {
				v.Status = entity.VulnerabilityOpen
			}
		}
		inv.PutVulnerabilities(id, doc.Vulnerabilities...)

		for _, c := range doc.Controls {
			c.SystemID = id
		}
		inv.PutControls(id, doc.Controls...)

		if doc.PatchStatus != nil {
			doc.PatchStatus.SystemID = id
			inv.PutPatchStatus(doc.PatchStatus)
		}
		if doc.Continuity != nil {
			doc.Continuity.SystemID = id
			inv.PutContinuityStatus(doc.Continuity)
		}
	}
	return inv, nil
}
