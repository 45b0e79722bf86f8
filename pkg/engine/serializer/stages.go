package serializer

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"gopkg.in/yaml.v3"
)

// Template ids served by dedicated stage serializers.
const (
	CreateVMsTaskID            = "generate_vms"
	PluginPreDeploymentHookID  = "plugin_pre_deployment_hook"
	PluginPostDeploymentHookID = "plugin_post_deployment_hook"
)

// RoleVirt is the role of machines hosting virtual machines.
const RoleVirt = "virt"

// StageSerializer turns one template into execution steps.
type StageSerializer interface {
	// UIDs returns the machines the template runs on.
	UIDs() []cluster.NodeID

	// Serialize returns the steps of the template in execution order.
	// Consecutive steps become a chain.
	Serialize() ([]Step, error)
}

// Kind is the closed set of stage serializers.
type Kind int

const (
	KindNoop Kind = iota
	KindStandard
	KindCreateVMs
	KindPluginPreDeployment
	KindPluginPostDeployment
)

func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindStandard:
		return "standard"
	case KindCreateVMs:
		return "create_vms"
	case KindPluginPreDeployment:
		return "plugin_pre_deployment"
	case KindPluginPostDeployment:
		return "plugin_post_deployment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeployTaskSerializer picks the stage serializer of a template. Template
// ids registered against a kind are served by it; stages, groups and
// skipped templates are noops; everything else is standard.
type DeployTaskSerializer struct {
	kinds map[string]Kind
}

// NewDeployTaskSerializer creates a factory with the built-in registrations.
func NewDeployTaskSerializer() *DeployTaskSerializer {
	return &DeployTaskSerializer{
		kinds: map[string]Kind{
			CreateVMsTaskID:            KindCreateVMs,
			PluginPreDeploymentHookID:  KindPluginPreDeployment,
			PluginPostDeploymentHookID: KindPluginPostDeployment,
		},
	}
}

// Register serves the template id with an existing kind.
func (d *DeployTaskSerializer) Register(id string, kind Kind) {
	d.kinds[id] = kind
}

// KindOf returns the kind serving a template.
func (d *DeployTaskSerializer) KindOf(t *catalog.Template) Kind {
	if t.IsVirtual() {
		return KindNoop
	}
	if k, ok := d.kinds[t.ID]; ok {
		return k
	}
	return KindStandard
}

// GetStageSerializer builds the stage serializer of a template.
func (d *DeployTaskSerializer) GetStageSerializer(t *catalog.Template, c *cluster.Cluster, resolver cluster.RoleResolver) StageSerializer {
	switch d.KindOf(t) {
	case KindStandard:
		return &standardSerializer{task: t, resolver: resolver}
	case KindCreateVMs:
		return &createVMsSerializer{task: t, resolver: resolver}
	case KindPluginPreDeployment:
		return &pluginHookSerializer{task: t, cluster: c, resolver: resolver}
	case KindPluginPostDeployment:
		return &pluginHookSerializer{task: t, cluster: c, resolver: resolver, post: true}
	default:
		return NewNoopSerializer(t, resolver)
	}
}

// PluginHookTemplates returns the templates that run plugin pre and post
// deployment steps. They are appended to every catalog.
func PluginHookTemplates() []*catalog.Template {
	return []*catalog.Template{
		{
			ID:          PluginPreDeploymentHookID,
			Type:        catalog.TypePuppet,
			Version:     catalog.CrossDependencyVersion,
			Requires:    []string{"pre_deployment_start"},
			RequiredFor: []string{"pre_deployment_end"},
		},
		{
			ID:          PluginPostDeploymentHookID,
			Type:        catalog.TypePuppet,
			Version:     catalog.CrossDependencyVersion,
			Requires:    []string{"post_deployment_start"},
			RequiredFor: []string{"post_deployment_end"},
		},
	}
}

// standardSerializer runs the template once on each machine of its role.
type standardSerializer struct {
	task     *catalog.Template
	resolver cluster.RoleResolver
}

func (s *standardSerializer) UIDs() []cluster.NodeID {
	return roleTargets(s.task, s.resolver)
}

func (s *standardSerializer) Serialize() ([]Step, error) {
	uids := s.UIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	return []Step{{
		UIDs:        uids,
		Type:        s.task.Type,
		Parameters:  s.task.Parameters,
		FailOnError: failOnError(s.task),
	}}, nil
}

// roleTargets resolves the role of a template, or its groups when it has
// no role. Unset and self roles are left to the resolver: the topology
// resolver maps them to nothing while a fixed resolver maps them to its
// machines.
func roleTargets(t *catalog.Template, resolver cluster.RoleResolver) []cluster.NodeID {
	if t.Role.IsZero() && len(t.Groups) > 0 {
		return resolver.Resolve(catalog.Roles(t.Groups...), catalog.PolicyAll)
	}
	return resolver.Resolve(t.Role, catalog.PolicyAll)
}

func failOnError(t *catalog.Template) bool {
	if t.FailOnError == nil {
		return true
	}
	return *t.FailOnError
}

// createVMsSerializer uploads the VM definitions to each virt machine,
// prepares the libvirt directories and applies the manifest that defines
// the VMs.
type createVMsSerializer struct {
	task     *catalog.Template
	resolver cluster.RoleResolver
}

const (
	defaultVMsConfPath = "/etc/puppet/modules/osnailyfacter/modular/generate_vms/vms_conf.yaml"
	defaultVMsPrepare  = "mkdir -p /var/lib/nova/instances /etc/libvirt/qemu"
)

func (s *createVMsSerializer) UIDs() []cluster.NodeID {
	if s.task.Role.IsZero() && len(s.task.Groups) == 0 {
		return s.resolver.Resolve(catalog.Roles(RoleVirt), catalog.PolicyAll)
	}
	return roleTargets(s.task, s.resolver)
}

func (s *createVMsSerializer) Serialize() ([]Step, error) {
	uids := s.UIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	params := s.task.Parameters
	conf, err := yaml.Marshal(map[string]interface{}{"vms_conf": params["vms_conf"]})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to render vms configuration: %w", s.task.ID, err)
	}

	puppet := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "vms_conf" || k == "vms_conf_path" || k == "prepare_cmd" {
			continue
		}
		puppet[k] = v
	}

	return []Step{
		{
			UIDs: uids,
			Type: catalog.TypeUploadFile,
			Parameters: map[string]interface{}{
				"path": stringParam(params, "vms_conf_path", defaultVMsConfPath),
				"data": string(conf),
			},
			FailOnError: true,
		},
		{
			UIDs: uids,
			Type: catalog.TypeShell,
			Parameters: map[string]interface{}{
				"cmd":     stringParam(params, "prepare_cmd", defaultVMsPrepare),
				"timeout": 180,
			},
			FailOnError: true,
		},
		{
			UIDs:        uids,
			Type:        catalog.TypePuppet,
			Parameters:  puppet,
			FailOnError: failOnError(s.task),
		},
	}, nil
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// pluginHookSerializer runs the deployment steps of every enabled plugin
// as one chain. A step whose role is master runs on the master machine.
type pluginHookSerializer struct {
	task     *catalog.Template
	cluster  *cluster.Cluster
	resolver cluster.RoleResolver
	post     bool
}

func (s *pluginHookSerializer) UIDs() []cluster.NodeID {
	seen := make(map[cluster.NodeID]bool)
	var out []cluster.NodeID
	for _, step := range s.steps() {
		for _, id := range step.UIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	cluster.SortIDs(out)
	return out
}

func (s *pluginHookSerializer) Serialize() ([]Step, error) {
	return s.steps(), nil
}

func (s *pluginHookSerializer) steps() []Step {
	if s.cluster == nil {
		return nil
	}
	var out []Step
	for _, plugin := range s.cluster.Plugins {
		actions := plugin.PreDeployment
		if s.post {
			actions = plugin.PostDeployment
		}
		for _, action := range actions {
			uids := s.resolver.Resolve(catalog.Roles(action.Role...), catalog.PolicyAll)
			if len(action.Role) == 0 || len(uids) == 0 {
				continue
			}
			params := make(map[string]interface{}, len(action.Parameters)+1)
			for k, v := range action.Parameters {
				params[k] = v
			}
			params["plugin"] = plugin.Name
			out = append(out, Step{
				UIDs:        uids,
				Type:        action.Type,
				Parameters:  params,
				FailOnError: true,
			})
		}
	}
	return out
}
