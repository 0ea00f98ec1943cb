package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"chainflow/internal/domain"
)

// TaskFile is the first-run task definition file. Tasks keep file order.
type TaskFile struct {
	BaseURL string
	Tasks   []TaskDef
}

type TaskDef struct {
	ID       string         `yaml:"-"`
	Name     string         `yaml:"name"`
	Endpoint string         `yaml:"endpoint"`
	Method   string         `yaml:"method"`
	Params   map[string]any `yaml:"params"`
	Schedule ScheduleDef    `yaml:"schedule"`
	Requires []string       `yaml:"requires"`
	Tags     []string       `yaml:"tags"`
	Enabled  *bool          `yaml:"enabled"`
	Priority int            `yaml:"priority"`
}

type ScheduleDef struct {
	Type     string `yaml:"type"`
	Time     string `yaml:"time"`
	Delay    int    `yaml:"delay"`
	Interval int    `yaml:"interval"`
	Unit     string `yaml:"unit"`
}

func (f *TaskFile) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		BaseURL string    `yaml:"base_url"`
		Tasks   yaml.Node `yaml:"tasks"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	f.BaseURL = raw.BaseURL
	f.Tasks = nil
	if raw.Tasks.Kind == 0 {
		return nil
	}
	if raw.Tasks.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: tasks must be a mapping", raw.Tasks.Line)
	}
	for i := 0; i+1 < len(raw.Tasks.Content); i += 2 {
		key, val := raw.Tasks.Content[i], raw.Tasks.Content[i+1]
		var def TaskDef
		if err := val.Decode(&def); err != nil {
			return errors.Wrapf(err, "task %s", key.Value)
		}
		def.ID = key.Value
		f.Tasks = append(f.Tasks, def)
	}
	return nil
}

// LoadTaskFile parses path. A missing file yields an empty TaskFile.
func LoadTaskFile(path string) (TaskFile, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return TaskFile{}, nil
	}
	if err != nil {
		return TaskFile{}, errors.Wrap(err, "read task file")
	}
	var tf TaskFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return TaskFile{}, errors.Wrapf(err, "parse %s", path)
	}
	return tf, nil
}

// Task converts d into the shared task fields. Name defaults to the id and
// method to GET.
func (d TaskDef) Task() domain.Task {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	method := domain.Method(d.Method)
	if method == "" {
		method = domain.MethodGet
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return domain.Task{
		ID:       d.ID,
		Name:     name,
		Endpoint: d.Endpoint,
		Method:   method,
		Params:   domain.Params(d.Params),
		Enabled:  enabled,
	}
}

// Schedule converts the block into a domain schedule. A missing type means
// daily.
func (s ScheduleDef) Schedule() (domain.Schedule, error) {
	switch s.Type {
	case "", string(domain.ScheduleDaily):
		return domain.Daily{At: s.Time}, nil
	case string(domain.ScheduleOnce):
		return domain.Once{DelaySeconds: s.Delay}, nil
	case string(domain.ScheduleInterval):
		unit, ok := domain.ParseIntervalUnit(s.Unit)
		if !ok {
			return nil, errors.Wrapf(domain.ErrInvalidSchedule, "unknown interval unit %q", s.Unit)
		}
		return domain.Interval{Every: s.Interval, Unit: unit}, nil
	default:
		return nil, errors.Wrapf(domain.ErrInvalidSchedule, "unknown schedule type %q", s.Type)
	}
}
