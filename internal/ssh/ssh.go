package sshc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"example.com/treefleet/internal/agent"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

const (
	AgentBinaryPath = "/usr/local/bin/treefleet-agent"
	AgentUnitPath   = "/etc/systemd/system/treefleet-agent.service"
	AgentService    = "treefleet-agent"
)

type HostSpec struct {
	Addr         string
	User         string
	PrivateKey   []byte
	Password     string
	UseSudo      bool
	SudoPassword string
}

// File is a file to place on the remote host.
type File struct {
	Path string
	Mode os.FileMode
	Data []byte
}

// Deployer pushes agent installs and tree definitions to hosts over SSH.
type Deployer struct {
	Log     zerolog.Logger
	Timeout time.Duration
}

func NewDeployer(log zerolog.Logger) *Deployer {
	return &Deployer{Log: log, Timeout: 10 * time.Second}
}

func authMethods(h HostSpec) ([]ssh.AuthMethod, error) {
	if h.Addr == "" || h.User == "" {
		return nil, errors.New("host addr and user required")
	}
	var methods []ssh.AuthMethod
	if len(h.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(bytes.TrimSpace(h.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if h.Password != "" {
		methods = append(methods, ssh.Password(h.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no auth methods provided")
	}
	return methods, nil
}

func (d *Deployer) dial(h HostSpec) (*ssh.Client, error) {
	methods, err := authMethods(h)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            h.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.Timeout,
	}
	client, err := ssh.Dial("tcp", h.Addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", h.Addr, err)
	}
	return client, nil
}

// InstallAgent uploads the agent binary, its config and a systemd unit,
// then enables and restarts the service.
func (d *Deployer) InstallAgent(h HostSpec, cfg agent.Config, agentBinary []byte) error {
	files, err := installFiles(cfg, agentBinary)
	if err != nil {
		return err
	}
	client, err := d.dial(h)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(h.PrivateKey) > 0 {
		d.authorizeKey(client, h)
	}

	commands := []string{
		"systemctl daemon-reload",
		"systemctl enable " + AgentService,
		"systemctl restart " + AgentService,
	}
	if err := d.push(client, h, files, commands); err != nil {
		return err
	}
	d.Log.Info().Str("host", h.Addr).Str("agent", cfg.AgentID).Msg("agent installed")
	return nil
}

// DeployDefinitions writes one YAML file per definition into dir on the
// host. defs maps tree names to their YAML source.
func (d *Deployer) DeployDefinitions(h HostSpec, dir string, defs map[string][]byte) error {
	files, err := definitionFiles(dir, defs)
	if err != nil {
		return err
	}
	client, err := d.dial(h)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := d.push(client, h, files, nil); err != nil {
		return err
	}
	d.Log.Info().Str("host", h.Addr).Str("dir", dir).Int("definitions", len(files)).Msg("definitions deployed")
	return nil
}

func installFiles(cfg agent.Config, agentBinary []byte) ([]File, error) {
	if len(agentBinary) == 0 {
		return nil, errors.New("agent binary is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return []File{
		{Path: AgentBinaryPath, Mode: 0o755, Data: agentBinary},
		{Path: agent.DefaultConfigPath, Mode: 0o644, Data: cfgBytes},
		{Path: AgentUnitPath, Mode: 0o644, Data: []byte(systemdUnit)},
	}, nil
}

func definitionFiles(dir string, defs map[string][]byte) ([]File, error) {
	if !path.IsAbs(dir) {
		return nil, fmt.Errorf("definitions dir %q must be absolute", dir)
	}
	if len(defs) == 0 {
		return nil, errors.New("no definitions to deploy")
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return nil, fmt.Errorf("invalid definition name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	files := make([]File, 0, len(names))
	for _, name := range names {
		files = append(files, File{Path: path.Join(dir, name+".yaml"), Mode: 0o644, Data: defs[name]})
	}
	return files, nil
}

func (d *Deployer) authorizeKey(client *ssh.Client, h HostSpec) {
	signer, err := ssh.ParsePrivateKey(bytes.TrimSpace(h.PrivateKey))
	if err != nil {
		return
	}
	pubKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	cmd := fmt.Sprintf("mkdir -p ~/.ssh && chmod 700 ~/.ssh && (grep -qxF '%[1]s' ~/.ssh/authorized_keys 2>/dev/null || echo '%[1]s' >> ~/.ssh/authorized_keys) && chmod 600 ~/.ssh/authorized_keys", pubKey)
	if err := runRemote(client, cmd, "", false); err != nil {
		d.Log.Warn().Err(err).Str("host", h.Addr).Msg("failed to install ssh key")
	}
}

// push uploads files and runs the follow-up commands. With sudo, files are
// staged in /tmp and moved into place by install(1).
func (d *Deployer) push(client *ssh.Client, h HostSpec, files []File, after []string) error {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	commands := []string{"set -e"}
	for i, f := range files {
		if h.UseSudo {
			tmp := fmt.Sprintf("/tmp/treefleet-%d-%d", time.Now().UnixNano(), i)
			if err := writeRemoteFile(sftpClient, tmp, f.Data, 0o600); err != nil {
				return err
			}
			commands = append(commands,
				fmt.Sprintf("install -D -m %04o %s %s", f.Mode.Perm(), tmp, f.Path),
				"rm -f "+tmp)
			continue
		}
		if err := sftpClient.MkdirAll(path.Dir(f.Path)); err != nil {
			return fmt.Errorf("mkdir %s: %w", path.Dir(f.Path), err)
		}
		if err := writeRemoteFile(sftpClient, f.Path, f.Data, f.Mode); err != nil {
			return err
		}
	}
	commands = append(commands, after...)
	if len(commands) == 1 {
		return nil
	}
	if err := runRemote(client, strings.Join(commands, " && "), h.SudoPassword, h.UseSudo); err != nil {
		return fmt.Errorf("run remote command: %w", err)
	}
	return nil
}

func writeRemoteFile(c *sftp.Client, p string, data []byte, perm os.FileMode) error {
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", p, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write remote file %s: %w", p, err)
	}
	if err := c.Chmod(p, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	return nil
}

func runRemote(client *ssh.Client, script, sudoPassword string, useSudo bool) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()
	var output bytes.Buffer
	sess.Stdout = &output
	sess.Stderr = &output
	cmd := fmt.Sprintf("bash -lc %q", script)
	if useSudo {
		if sudoPassword == "" {
			return errors.New("sudo password required")
		}
		stdin, err := sess.StdinPipe()
		if err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		cmd = fmt.Sprintf("sudo -S -p '' %s", cmd)
		go func() {
			defer stdin.Close()
			_, _ = io.WriteString(stdin, sudoPassword+"\n")
		}()
	}
	if err := sess.Run(cmd); err != nil {
		return fmt.Errorf("command failed: %w (output: %s)", err, output.String())
	}
	return nil
}

const systemdUnit = `[Unit]
Description=Treefleet Agent
After=network-online.target

[Service]
Environment=AGENT_CONFIG_PATH=` + agent.DefaultConfigPath + `
ExecStart=` + AgentBinaryPath + ` run
Restart=always

[Install]
WantedBy=multi-user.target
`

// DetectArch returns the host's GOARCH name (amd64, arm64).
func (d *Deployer) DetectArch(h HostSpec) (string, error) {
	client, err := d.dial(h)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	out, err := session.Output("uname -m")
	if err != nil {
		return "", fmt.Errorf("uname -m: %w", err)
	}
	return normalizeArch(strings.TrimSpace(string(out))), nil
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	default:
		return arch
	}
}
