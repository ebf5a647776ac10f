package farm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Slot statuses.
const (
	SlotActive = "active"
	SlotSkip   = "skip"
	SlotPaused = "paused"
)

const (
	co2BoostAbove = 1000.0
	co2BoostML    = 50.0
	vpdBoostAbove = 1.4
	vpdBoostML    = 100.0
	maxBoostML    = co2BoostML + vpdBoostML
)

var (
	ErrSlotNotFound       = errors.New("schedule slot not found")
	ErrInvalidSlotStatus  = errors.New("slot status must be active, skip or paused")
	ErrUnknownGrowthStage = errors.New("unknown growth stage")
	ErrUnknownProfile     = errors.New("unknown plant profile")
	ErrInvalidVolumeRange = errors.New("invalid volume range")
)

// MaxVolumeLimit is the highest MaxVolume accepted: boosted slots must stay
// inside the water_volume range so every run can be recorded.
func MaxVolumeLimit() float64 {
	spec, _ := telemetry.Lookup(telemetry.MetricWaterVolume)
	return spec.Valid.Max - maxBoostML
}

// Slot is one hourly watering window.
type Slot struct {
	Hour      int     `json:"hour" yaml:"hour"`
	Volume    float64 `json:"volume" yaml:"volume"`
	Status    string  `json:"status" yaml:"status"`
	Condition string  `json:"condition" yaml:"condition"`
}

// Label renders the slot start like "7:00 AM".
func (s Slot) Label() string {
	return time.Date(2000, 1, 1, s.Hour, 0, 0, 0, time.UTC).Format("3:04 PM")
}

// GrowthStage ties a crop stage to its VPD target.
type GrowthStage struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	VPD   telemetry.Range `json:"vpd"`
}

// PlantProfile scales base volumes by how thirsty the crop is.
type PlantProfile struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Factor float64 `json:"factor"`
}

var growthStages = []GrowthStage{
	{Key: "seedling", Label: "Seedling", VPD: telemetry.Range{Min: 0.4, Max: 0.8}},
	{Key: "vegetative", Label: "Vegetative", VPD: telemetry.Range{Min: 0.8, Max: 1.2}},
	{Key: "flowering", Label: "Flowering", VPD: telemetry.Range{Min: 1.2, Max: 1.6}},
}

var plantProfiles = []PlantProfile{
	{Key: "spinach", Label: "Spinach (High Water)", Factor: 1.2},
	{Key: "tomato", Label: "Tomato (Medium Water)", Factor: 1.0},
	{Key: "lettuce", Label: "Lettuce (Moderate Water)", Factor: 0.9},
	{Key: "herbs", Label: "Herbs (Low Water)", Factor: 0.7},
}

// GrowthStages lists the selectable stages.
func GrowthStages() []GrowthStage { return append([]GrowthStage(nil), growthStages...) }

// PlantProfiles lists the selectable plant profiles.
func PlantProfiles() []PlantProfile { return append([]PlantProfile(nil), plantProfiles...) }

// LookupGrowthStage finds a stage by key.
func LookupGrowthStage(key string) (GrowthStage, bool) {
	for _, g := range growthStages {
		if g.Key == key {
			return g, true
		}
	}
	return GrowthStage{}, false
}

// LookupPlantProfile finds a profile by key.
func LookupPlantProfile(key string) (PlantProfile, bool) {
	for _, p := range plantProfiles {
		if p.Key == key {
			return p, true
		}
	}
	return PlantProfile{}, false
}

// Settings are the schedule-wide controls.
type Settings struct {
	AutoMode    bool    `json:"autoMode" yaml:"autoMode"`
	GrowthStage string  `json:"growthStage" yaml:"growthStage"`
	Profile     string  `json:"profile" yaml:"profile"`
	MinVolume   float64 `json:"minVolume" yaml:"minVolume"`
	MaxVolume   float64 `json:"maxVolume" yaml:"maxVolume"`
}

func (s Settings) checkVolumes() error {
	if s.MinVolume < 0 || s.MinVolume > s.MaxVolume {
		return fmt.Errorf("%w: minimum %g must be between 0 and maximum %g", ErrInvalidVolumeRange, s.MinVolume, s.MaxVolume)
	}
	if limit := MaxVolumeLimit(); s.MaxVolume > limit {
		return fmt.Errorf("%w: maximum %g exceeds %g mL", ErrInvalidVolumeRange, s.MaxVolume, limit)
	}
	return nil
}

// DefaultSettings matches the greenhouse defaults.
func DefaultSettings() Settings {
	return Settings{AutoMode: true, GrowthStage: "vegetative", Profile: "spinach", MinVolume: 0, MaxVolume: 300}
}

// DefaultSlots is the daily plan from 7 AM to 6 PM.
func DefaultSlots() []Slot {
	return []Slot{
		{Hour: 7, Volume: 0, Status: SlotSkip, Condition: "Low light"},
		{Hour: 8, Volume: 100, Status: SlotActive, Condition: "Light rising"},
		{Hour: 9, Volume: 150, Status: SlotActive, Condition: "VPD ~0.9 kPa"},
		{Hour: 10, Volume: 200, Status: SlotActive, Condition: "Optimal conditions"},
		{Hour: 11, Volume: 250, Status: SlotActive, Condition: "High VPD"},
		{Hour: 12, Volume: 300, Status: SlotActive, Condition: "Peak conditions"},
		{Hour: 13, Volume: 250, Status: SlotActive, Condition: "Afternoon"},
		{Hour: 14, Volume: 200, Status: SlotActive, Condition: "Stable"},
		{Hour: 15, Volume: 150, Status: SlotActive, Condition: "Cooling"},
		{Hour: 16, Volume: 100, Status: SlotActive, Condition: "Evening"},
		{Hour: 17, Volume: 50, Status: SlotActive, Condition: "Sunset"},
		{Hour: 18, Volume: 0, Status: SlotSkip, Condition: "Night mode"},
	}
}

// Conditions are the live readings that adjust planned volumes.
type Conditions struct {
	CO2 float64 `json:"co2"`
	VPD float64 `json:"vpd"`
}

// ScheduleStore persists the plan.
type ScheduleStore interface {
	LoadSlots(ctx context.Context) ([]Slot, error)
	SaveSlots(ctx context.Context, slots []Slot) error
	LoadSettings(ctx context.Context) (Settings, bool, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// SlotPatch changes part of a slot.
type SlotPatch struct {
	Volume    *float64 `json:"volume"`
	Status    *string  `json:"status"`
	Condition *string  `json:"condition"`
}

// SettingsPatch changes part of the settings.
type SettingsPatch struct {
	AutoMode    *bool    `json:"autoMode"`
	GrowthStage *string  `json:"growthStage"`
	Profile     *string  `json:"profile"`
	MinVolume   *float64 `json:"minVolume"`
	MaxVolume   *float64 `json:"maxVolume"`
}

// Planner holds the watering plan. Updates are persisted before they
// become visible.
type Planner struct {
	writeMu  sync.Mutex
	mu       sync.RWMutex
	slots    []Slot
	settings Settings
	store    ScheduleStore
}

// NewPlanner creates a planner seeded with slots and settings. store may be nil.
func NewPlanner(slots []Slot, settings Settings, store ScheduleStore) *Planner {
	p := &Planner{slots: append([]Slot(nil), slots...), settings: settings, store: store}
	sort.Slice(p.slots, func(i, j int) bool { return p.slots[i].Hour < p.slots[j].Hour })
	return p
}

// Load replaces the seed with the persisted plan when one exists, and
// persists the seed otherwise.
func (p *Planner) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	slots, err := p.store.LoadSlots(ctx)
	if err != nil {
		return fmt.Errorf("load schedule slots: %w", err)
	}
	settings, ok, err := p.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load schedule settings: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(slots) > 0 {
		sort.Slice(slots, func(i, j int) bool { return slots[i].Hour < slots[j].Hour })
		p.slots = slots
	} else if err := p.store.SaveSlots(ctx, p.slots); err != nil {
		return fmt.Errorf("seed schedule slots: %w", err)
	}
	if ok {
		p.settings = settings
	} else if err := p.store.SaveSettings(ctx, p.settings); err != nil {
		return fmt.Errorf("seed schedule settings: %w", err)
	}
	return nil
}

// Slots returns the plan.
func (p *Planner) Slots() []Slot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Slot(nil), p.slots...)
}

// Settings returns the current settings.
func (p *Planner) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// UpdateSlot applies patch to slot index. Volumes are clamped to the base range.
func (p *Planner) UpdateSlot(ctx context.Context, index int, patch SlotPatch) (Slot, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.RLock()
	if index < 0 || index >= len(p.slots) {
		p.mu.RUnlock()
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotNotFound, index)
	}
	slots := append([]Slot(nil), p.slots...)
	volumes := p.volumeRange()
	p.mu.RUnlock()

	slot := slots[index]
	if patch.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*patch.Status))
		if status != SlotActive && status != SlotSkip && status != SlotPaused {
			return Slot{}, ErrInvalidSlotStatus
		}
		slot.Status = status
	}
	if patch.Volume != nil {
		slot.Volume = volumes.Clamp(*patch.Volume)
	}
	if patch.Condition != nil {
		slot.Condition = strings.TrimSpace(*patch.Condition)
	}
	slots[index] = slot

	if p.store != nil {
		if err := p.store.SaveSlots(ctx, slots); err != nil {
			return Slot{}, fmt.Errorf("save schedule slots: %w", err)
		}
	}
	p.mu.Lock()
	p.slots = slots
	p.mu.Unlock()
	return slot, nil
}

// UpdateSettings applies patch to the settings.
func (p *Planner) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	next := p.Settings()
	if patch.AutoMode != nil {
		next.AutoMode = *patch.AutoMode
	}
	if patch.GrowthStage != nil {
		if _, ok := LookupGrowthStage(*patch.GrowthStage); !ok {
			return Settings{}, fmt.Errorf("%w: %s", ErrUnknownGrowthStage, *patch.GrowthStage)
		}
		next.GrowthStage = *patch.GrowthStage
	}
	if patch.Profile != nil {
		if _, ok := LookupPlantProfile(*patch.Profile); !ok {
			return Settings{}, fmt.Errorf("%w: %s", ErrUnknownProfile, *patch.Profile)
		}
		next.Profile = *patch.Profile
	}
	if patch.MinVolume != nil {
		next.MinVolume = *patch.MinVolume
	}
	if patch.MaxVolume != nil {
		next.MaxVolume = *patch.MaxVolume
	}
	if err := next.checkVolumes(); err != nil {
		return Settings{}, err
	}

	if p.store != nil {
		if err := p.store.SaveSettings(ctx, next); err != nil {
			return Settings{}, fmt.Errorf("save schedule settings: %w", err)
		}
	}
	p.mu.Lock()
	p.settings = next
	p.mu.Unlock()
	return next, nil
}

// PlannedVolume is the millilitres slot will deliver under cond: the base
// volume scaled by the plant profile, plus 50 mL when CO₂ exceeds 1000 ppm
// and 100 mL when VPD exceeds 1.4 kPa. Skipped and paused slots deliver 0.
func (p *Planner) PlannedVolume(slot Slot, cond Conditions) float64 {
	if slot.Status != SlotActive {
		return 0
	}
	settings := p.Settings()
	factor := 1.0
	if profile, ok := LookupPlantProfile(settings.Profile); ok {
		factor = profile.Factor
	}
	v := slot.Volume * factor
	if cond.CO2 > co2BoostAbove {
		v += co2BoostML
	}
	if cond.VPD > vpdBoostAbove {
		v += vpdBoostML
	}
	limits := telemetry.Range{Min: settings.MinVolume, Max: settings.MaxVolume + maxBoostML}
	return telemetry.Round(limits.Clamp(v), 1)
}

// DailyVolume totals PlannedVolume over every slot.
func (p *Planner) DailyVolume(cond Conditions) float64 {
	total := 0.0
	for _, slot := range p.Slots() {
		total += p.PlannedVolume(slot, cond)
	}
	return telemetry.Round(total, 1)
}

// NextActivation returns the first active slot starting at or after now,
// wrapping to tomorrow.
func (p *Planner) NextActivation(now time.Time) (Slot, time.Time, bool) {
	slots := p.Slots()
	for day := 0; day < 2; day++ {
		base := time.Date(now.Year(), now.Month(), now.Day()+day, 0, 0, 0, 0, now.Location())
		for _, slot := range slots {
			if slot.Status != SlotActive {
				continue
			}
			at := base.Add(time.Duration(slot.Hour) * time.Hour)
			if !at.Before(now) {
				return slot, at, true
			}
		}
	}
	return Slot{}, time.Time{}, false
}

// SlotAt returns the slot whose hour is h.
func (p *Planner) SlotAt(h int) (Slot, bool) {
	for _, slot := range p.Slots() {
		if slot.Hour == h {
			return slot, true
		}
	}
	return Slot{}, false
}

// VPDTarget is the VPD band of the selected growth stage.
func (p *Planner) VPDTarget() telemetry.Range {
	if g, ok := LookupGrowthStage(p.Settings().GrowthStage); ok {
		return g.VPD
	}
	return growthStages[1].VPD
}

func (p *Planner) volumeRange() telemetry.Range {
	return telemetry.Range{Min: p.settings.MinVolume, Max: p.settings.MaxVolume}
}

// MemoryScheduleStore keeps the plan in memory.
type MemoryScheduleStore struct {
	mu       sync.Mutex
	slots    []Slot
	settings *Settings
}

func (m *MemoryScheduleStore) LoadSlots(context.Context) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Slot(nil), m.slots...), nil
}

func (m *MemoryScheduleStore) SaveSlots(_ context.Context, slots []Slot) error {
	m.mu.Lock()
	m.slots = append([]Slot(nil), slots...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryScheduleStore) LoadSettings(context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return Settings{}, false, nil
	}
	return *m.settings, true, nil
}

func (m *MemoryScheduleStore) SaveSettings(_ context.Context, s Settings) error {
	m.mu.Lock()
	m.settings = &s
	m.mu.Unlock()
	return nil
}
