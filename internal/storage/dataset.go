package storage

import (
	"strings"

	"schoolbell/internal/bell"
)

// dataset is the in-memory shape shared by the memory and file drivers.
// Clip bytes live in clipData so metadata can be serialized on its own.
type dataset struct {
	Schedules []bell.Schedule   `json:"schedules"`
	Clips     []bell.AudioClip  `json:"clips"`
	Settings  map[string]string `json:"settings"`

	clipData map[string][]byte
}

func newDataset() *dataset {
	return &dataset{Settings: map[string]string{}, clipData: map[string][]byte{}}
}

// clone copies everything except clip bytes, which are immutable and shared.
func (d *dataset) clone() *dataset {
	cp := &dataset{
		Schedules: append([]bell.Schedule(nil), d.Schedules...),
		Clips:     append([]bell.AudioClip(nil), d.Clips...),
		Settings:  make(map[string]string, len(d.Settings)),
		clipData:  make(map[string][]byte, len(d.clipData)),
	}
	for k, v := range d.Settings {
		cp.Settings[k] = v
	}
	for k, v := range d.clipData {
		cp.clipData[k] = v
	}
	return cp
}

func (d *dataset) scheduleIndex(id string) int {
	for i, s := range d.Schedules {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (d *dataset) clipIndex(id string) int {
	for i, c := range d.Clips {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (d *dataset) putSchedule(s bell.Schedule) {
	if i := d.scheduleIndex(s.ID); i >= 0 {
		d.Schedules[i] = s
		return
	}
	d.Schedules = append(d.Schedules, s)
}

func (d *dataset) deleteSchedule(id string) error {
	i := d.scheduleIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	d.Schedules = append(d.Schedules[:i:i], d.Schedules[i+1:]...)
	return nil
}

func (d *dataset) putClip(c bell.AudioClip) {
	data := c.Data
	c.Data = nil
	d.clipData[c.ID] = data
	if i := d.clipIndex(c.ID); i >= 0 {
		d.Clips[i] = c
		return
	}
	d.Clips = append(d.Clips, c)
}

func (d *dataset) getClip(id string) (bell.AudioClip, error) {
	i := d.clipIndex(id)
	if i < 0 {
		return bell.AudioClip{}, ErrNotFound
	}
	c := d.Clips[i]
	c.Data = d.clipData[id]
	return c, nil
}

// deleteClip removes the clip and clears every reference to it.
func (d *dataset) deleteClip(id string) ([]string, error) {
	i := d.clipIndex(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	d.Clips = append(d.Clips[:i:i], d.Clips[i+1:]...)
	delete(d.clipData, id)

	var cleared []string
	for j := range d.Schedules {
		if strings.TrimSpace(d.Schedules[j].AudioID) == id {
			d.Schedules[j].AudioID = ""
			cleared = append(cleared, d.Schedules[j].ID)
		}
	}
	return cleared, nil
}
