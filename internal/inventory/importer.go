/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/store"
)

// Manifest describes labs to provision, as read from an inventory file:
//
//	labs:
//	  - name: Optics
//	    admin: alice
//	    members: [bob]
//	    equipment:
//	      Scope: 2
type Manifest struct {
	Labs []LabManifest `yaml:"labs"`
}

// LabManifest is one lab entry of a Manifest.
type LabManifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Admin       string         `yaml:"admin"`
	Members     []string       `yaml:"members"`
	Equipment   map[string]int `yaml:"equipment"`
}

// ImportResult reports what an import changed for one lab.
type ImportResult struct {
	LabID        string         `json:"lab_id"`
	Name         string         `json:"name"`
	Created      bool           `json:"created"`
	MembersAdded int            `json:"members_added"`
	UnitsAdded   map[string]int `json:"units_added"`
}

// ParseManifest decodes an inventory file. Unknown keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse inventory: %v", ErrInvalidInput, err)
	}
	for i, lab := range m.Labs {
		if strings.TrimSpace(lab.Name) == "" {
			return nil, fmt.Errorf("%w: lab %d has no name", ErrInvalidInput, i+1)
		}
		if strings.TrimSpace(lab.Admin) == "" {
			return nil, fmt.Errorf("%w: lab %q has no admin", ErrInvalidInput, lab.Name)
		}
		for typ, n := range lab.Equipment {
			if strings.TrimSpace(typ) == "" || n < 0 {
				return nil, fmt.Errorf("%w: lab %q has an invalid equipment entry", ErrInvalidInput, lab.Name)
			}
		}
	}
	return &m, nil
}

// Import provisions labs from a manifest. It is additive: missing labs are
// created, missing members added, and each equipment type topped up to the
// listed count. Nothing is removed.
func (s *Service) Import(ctx context.Context, m *Manifest) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(m.Labs))
	for _, lm := range m.Labs {
		res, err := s.importLab(ctx, lm)
		if err != nil {
			return results, fmt.Errorf("import lab %q: %w", lm.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) importLab(ctx context.Context, lm LabManifest) (ImportResult, error) {
	res := ImportResult{Name: lm.Name, UnitsAdded: map[string]int{}}

	lab, err := s.store.FindLabByName(ctx, lm.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		lab, err = s.CreateLab(ctx, lm.Admin, lm.Name, lm.Description)
		if err != nil {
			return res, err
		}
		res.Created = true
	case err != nil:
		return res, err
	}
	res.LabID = lab.ID

	for _, userID := range lm.Members {
		if _, err := s.store.Member(ctx, lab.ID, userID); err == nil {
			continue
		}
		if _, _, err := s.JoinLab(ctx, userID, lab.ID); err != nil {
			return res, err
		}
		res.MembersAdded++
	}

	units, err := s.store.ListUnits(ctx, lab.ID)
	if err != nil {
		return res, err
	}
	have := make(map[string]int)
	for _, u := range units {
		have[u.EquipmentType]++
	}

	types := make([]string, 0, len(lm.Equipment))
	for typ := range lm.Equipment {
		types = append(types, typ)
	}
	sort.Strings(types)

	for _, typ := range types {
		missing := lm.Equipment[typ] - have[typ]
		for missing > 0 {
			n := min(missing, MaxUnitsPerCall)
			if _, err := s.addUnitsAs(ctx, lab.ID, lm.Admin, typ, n); err != nil {
				return res, err
			}
			res.UnitsAdded[typ] += n
			missing -= n
		}
	}

	s.logger.Info().
		Str("lab_id", lab.ID).
		Bool("created", res.Created).
		Int("members_added", res.MembersAdded).
		Interface("units_added", res.UnitsAdded).
		Msg("lab imported")
	return res, nil
}

// addUnitsAs adds units on behalf of the manifest admin, who may not hold the
// admin role in a lab that already existed.
func (s *Service) addUnitsAs(ctx context.Context, labID, actorID, equipmentType string, count int) ([]models.EquipmentUnit, error) {
	units, err := s.store.AddUnits(ctx, labID, equipmentType, count)
	if err != nil {
		return nil, err
	}
	s.publishInventory(labID, actorID, "add", equipmentType, len(units))
	return units, nil
}
