package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

type installer struct {
	bc *bootContext
}

// commands lists the install commands: configured ones first, then one pip
// install per requirements file of the repository and of every custom node
func (i installer) commands() ([][]string, []string, error) {
	var argvs [][]string
	for _, c := range i.bc.cfg.Dependencies.Install {
		argvs = append(argvs, []string{"/bin/bash", "-c", c})
	}

	var files []string
	repoReq := filepath.Join(i.bc.cfg.Repository.Dir, "requirements.txt")
	if _, err := os.Stat(repoReq); err == nil {
		files = append(files, repoReq)
	}
	nodes, err := installedNodes(i.bc.cfg.NodesDir())
	if err != nil {
		return nil, nil, err
	}
	files = append(files, nodes...)

	for _, f := range files {
		argvs = append(argvs, []string{i.bc.cfg.Dependencies.Pip, "install", "--no-cache-dir", "-r", f})
	}
	return argvs, files, nil
}

// digest covers the commands and the content of every requirements file
func digest(argvs [][]string, files []string) (string, error) {
	h := blake3.New()
	for _, argv := range argvs {
		fmt.Fprintln(h, strings.Join(argv, " "))
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// install executes sequentially and returns on the first failure
func (i installer) install(ctx context.Context, argvs [][]string) error {
	log := i.bc.stage("dependencies")
	for n, argv := range argvs {
		log.Infof("Running %d/%d: %s", n+1, len(argvs), strings.Join(argv, " "))
		if err := i.bc.run(ctx, i.bc.cfg.Repository.Dir, argv...); err != nil {
			return err
		}
	}
	return nil
}

func installDependencies(ctx context.Context, bc *bootContext) error {
	if !bc.Online() {
		return skip("offline")
	}
	i := installer{bc: bc}
	argvs, files, err := i.commands()
	if err != nil {
		return degraded("%s", err)
	}
	if len(argvs) == 0 {
		return skip("nothing to install")
	}

	sum, err := digest(argvs, files)
	if err != nil {
		return degraded("error hashing requirements: %s", err)
	}
	if prev, err := os.ReadFile(bc.cfg.DigestPath()); err == nil && bytes.Equal(bytes.TrimSpace(prev), []byte(sum)) {
		return skip("requirements unchanged since last install")
	}

	if err := i.install(ctx, argvs); err != nil {
		return degraded("installation ended with error: %s", err)
	}
	if err := os.WriteFile(bc.cfg.DigestPath(), []byte(sum+"\n"), 0644); err != nil {
		bc.stage("dependencies").Warnf("Error saving digest: %s", err)
	}
	return nil
}
