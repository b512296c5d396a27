package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/hostregistry"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage configured engine hosts",
}

var hostsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsAdd,
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	RunE:  runHostsList,
}

var hostsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsRemove,
}

var hostsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Set the active host",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsUse,
}

var hostsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a host's configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsUpdate,
}

func init() {
	hostsAddCmd.Flags().String("kind", string(enginetypes.ConnLocalSocket), "Connection kind: local-socket, ssh-tunnel, tcp-tls")
	hostsAddCmd.Flags().String("engine", string(enginetypes.EngineDocker), "Engine hint: docker or podman")
	hostsAddCmd.Flags().String("socket", "", "Socket path (local-socket)")
	hostsAddCmd.Flags().String("ssh-hostname", "", "SSH hostname (ssh-tunnel)")
	hostsAddCmd.Flags().String("ssh-user", "", "SSH user (ssh-tunnel)")
	hostsAddCmd.Flags().Int("ssh-port", 22, "SSH port (ssh-tunnel)")
	hostsAddCmd.Flags().String("remote-socket", "", "Remote engine socket path, forwarded over the tunnel")
	hostsAddCmd.Flags().String("tcp-host", "", "TCP host (tcp-tls)")
	hostsAddCmd.Flags().Int("tcp-port", 2376, "TCP port (tcp-tls)")

	hostsUpdateCmd.Flags().String("name", "", "New display name")
	hostsUpdateCmd.Flags().String("kind", "", "Connection kind: local-socket, ssh-tunnel, tcp-tls")
	hostsUpdateCmd.Flags().String("engine", "", "Engine hint: docker or podman")
	hostsUpdateCmd.Flags().String("socket", "", "Socket path (local-socket)")
	hostsUpdateCmd.Flags().String("ssh-hostname", "", "SSH hostname (ssh-tunnel)")
	hostsUpdateCmd.Flags().String("ssh-user", "", "SSH user (ssh-tunnel)")
	hostsUpdateCmd.Flags().Int("ssh-port", 0, "SSH port (ssh-tunnel)")
	hostsUpdateCmd.Flags().String("remote-socket", "", "Remote engine socket path, forwarded over the tunnel")
	hostsUpdateCmd.Flags().String("tcp-host", "", "TCP host (tcp-tls)")
	hostsUpdateCmd.Flags().Int("tcp-port", 0, "TCP port (tcp-tls)")

	hostsCmd.AddCommand(hostsAddCmd, hostsListCmd, hostsRemoveCmd, hostsUseCmd, hostsUpdateCmd)
}

func openRegistry(cmd *cobra.Command) (*hostregistry.Registry, *bbolt.DB, error) {
	dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
	db, err := bbolt.Open(filepath.Join(dataDir, "engineeye.db"), 0o600, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	reg, err := hostregistry.New(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return reg, db, nil
}

func runHostsAdd(cmd *cobra.Command, args []string) error {
	reg, db, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	defer reg.Close()

	kind, _ := cmd.Flags().GetString("kind")
	engine, _ := cmd.Flags().GetString("engine")
	socket, _ := cmd.Flags().GetString("socket")
	sshHostname, _ := cmd.Flags().GetString("ssh-hostname")
	sshUser, _ := cmd.Flags().GetString("ssh-user")
	sshPort, _ := cmd.Flags().GetInt("ssh-port")
	remoteSocket, _ := cmd.Flags().GetString("remote-socket")
	tcpHost, _ := cmd.Flags().GetString("tcp-host")
	tcpPort, _ := cmd.Flags().GetInt("tcp-port")

	host := enginetypes.HostConfig{
		ID:             uuid.NewString(),
		DisplayName:    args[0],
		ConnectionKind: enginetypes.ConnectionKind(kind),
		Engine:         enginetypes.EngineKind(engine),
		SocketPath:     socket,
		SSHHostname:    sshHostname,
		SSHUser:        sshUser,
		SSHPort:        sshPort,
		RemoteSocket:   remoteSocket,
		TCPHost:        tcpHost,
		TCPPort:        tcpPort,
	}
	if err := reg.Add(host); err != nil {
		return err
	}
	fmt.Printf("added host %q (%s)\n", host.DisplayName, host.ID)
	return nil
}

func runHostsList(cmd *cobra.Command, args []string) error {
	reg, db, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	defer reg.Close()

	hosts, err := reg.List()
	if err != nil {
		return err
	}
	active := reg.Active()
	for _, h := range hosts {
		marker := " "
		if h.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %s\t%s\t%s\n", marker, h.ID, h.DisplayName, h.ConnectionKind)
	}
	return nil
}

func runHostsRemove(cmd *cobra.Command, args []string) error {
	reg, db, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	defer reg.Close()
	return reg.Remove(args[0])
}

func runHostsUse(cmd *cobra.Command, args []string) error {
	reg, db, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	defer reg.Close()
	return reg.SetActive(args[0])
}

// runHostsUpdate applies only the flags the caller explicitly set, leaving
// every other field at its current persisted value.
func runHostsUpdate(cmd *cobra.Command, args []string) error {
	reg, db, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	defer reg.Close()

	host, err := reg.Get(args[0])
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		host.DisplayName, _ = flags.GetString("name")
	}
	if flags.Changed("kind") {
		kind, _ := flags.GetString("kind")
		host.ConnectionKind = enginetypes.ConnectionKind(kind)
	}
	if flags.Changed("engine") {
		engine, _ := flags.GetString("engine")
		host.Engine = enginetypes.EngineKind(engine)
	}
	if flags.Changed("socket") {
		host.SocketPath, _ = flags.GetString("socket")
	}
	if flags.Changed("ssh-hostname") {
		host.SSHHostname, _ = flags.GetString("ssh-hostname")
	}
	if flags.Changed("ssh-user") {
		host.SSHUser, _ = flags.GetString("ssh-user")
	}
	if flags.Changed("ssh-port") {
		host.SSHPort, _ = flags.GetInt("ssh-port")
	}
	if flags.Changed("remote-socket") {
		host.RemoteSocket, _ = flags.GetString("remote-socket")
	}
	if flags.Changed("tcp-host") {
		host.TCPHost, _ = flags.GetString("tcp-host")
	}
	if flags.Changed("tcp-port") {
		host.TCPPort, _ = flags.GetInt("tcp-port")
	}

	if err := reg.Update(host); err != nil {
		return err
	}
	fmt.Printf("updated host %q (%s)\n", host.DisplayName, host.ID)
	return nil
}
