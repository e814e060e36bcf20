// Package collect loads a declarative task manifest (tasks.yaml): the
// identity, dependency paths, product paths, and markers for each task, with
// the actual Go function bodies supplied separately through a Registry
// keyed by name.
package collect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"taskweave/internal/errs"
	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

// Registry resolves a manifest's "body" field to the Go function that
// actually runs; manifests never carry code, only identity and structure.
type Registry map[string]task.Body

// manifestMarker mirrors task.Marker for YAML decoding.
type manifestMarker struct {
	Name   string         `yaml:"name"`
	Args   []any          `yaml:"args"`
	Kwargs map[string]any `yaml:"kwargs"`
}

type manifestTask struct {
	Name        string            `yaml:"name"`
	Path        string            `yaml:"path"`
	ParamID     string            `yaml:"param_id"`
	Body        string            `yaml:"body"`
	DependsOn   map[string]string `yaml:"depends_on"`
	Produces    map[string]string `yaml:"produces"`
	Markers     []manifestMarker  `yaml:"markers"`
	IsGenerator bool              `yaml:"is_generator"`
}

type manifest struct {
	Tasks []manifestTask `yaml:"tasks"`
}

// Load reads and parses a tasks.yaml manifest at path, resolving each
// task's "body" key against reg and wiring path-keyed dependencies and
// products into PathNodes.
func Load(path string, reg Registry) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindCollection, "", err, "read manifest %q", path)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindCollection, "", err, "parse manifest %q", path)
	}

	var group errs.Group
	var tasks []*task.Task
	for _, mt := range m.Tasks {
		t, err := buildTask(mt, reg)
		if err != nil {
			group.Add(errs.Wrap(errs.KindCollection, "", err, "task %q", mt.Name))
			continue
		}
		tasks = append(tasks, t)
	}
	if !group.Empty() {
		return nil, group.Err()
	}
	return tasks, nil
}

func buildTask(mt manifestTask, reg Registry) (*task.Task, error) {
	if mt.Name == "" {
		return nil, fmt.Errorf("manifest task missing a name")
	}

	var body task.Body
	if mt.Body != "" {
		b, ok := reg[mt.Body]
		if !ok {
			return nil, fmt.Errorf("no registered body %q", mt.Body)
		}
		body = b
	}

	t, err := task.New(mt.Name, mt.Path, mt.ParamID, body)
	if err != nil {
		return nil, err
	}
	t.IsGenerator = mt.IsGenerator
	t.DependsOn = pathMapToTree(mt.DependsOn)
	t.Produces = pathMapToTree(mt.Produces)

	for _, mm := range mt.Markers {
		if err := t.AddMarker(task.Marker{Name: mm.Name, Args: mm.Args, Kwargs: mm.Kwargs}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func pathMapToTree(paths map[string]string) tree.Tree {
	if len(paths) == 0 {
		return nil
	}
	items := make(map[string]tree.Tree, len(paths))
	for key, p := range paths {
		items[key] = tree.Leaf{Node: node.NewPathNode(p)}
	}
	return tree.Map{Items: items}
}
