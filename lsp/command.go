package lsp

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// JavaCommand builds the Eclipse JDT language server command vector for
// a single session workspace.
func JavaCommand(javaBin, launcherJar, configDir, workspaceDir string) []string {
	return []string{
		javaBin,
		"-Declipse.application=org.eclipse.jdt.ls.core.id1",
		"-Dosgi.bundles.defaultStartLevel=4",
		"-Declipse.product=org.eclipse.jdt.ls.core.product",
		"-Dlog.level=ALL",
		"-Xms1G",
		"-Xmx2G",
		"-jar", launcherJar,
		"-configuration", configDir,
		"-data", workspaceDir,
		"--add-modules=ALL-SYSTEM",
		"--add-opens", "java.base/java.util=ALL-UNNAMED",
		"--add-opens", "java.base/java.lang=ALL-UNNAMED",
	}
}

// FindLauncherJar locates the Equinox launcher jar under a JDT LS
// installation. The first match in lexical order is used.
func FindLauncherJar(jdtHome string) (string, error) {
	pattern := filepath.Join(jdtHome, "plugins", "org.eclipse.equinox.launcher_*.jar")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to glob launcher jar: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no launcher jar found matching %s", pattern)
	}

	sort.Strings(matches)

	return matches[0], nil
}

// JDTConfigDir returns the platform configuration directory of a JDT LS
// installation.
func JDTConfigDir(jdtHome string) (string, error) {
	name := "config_linux"
	switch runtime.GOOS {
	case "darwin":
		name = "config_mac"
	case "windows":
		name = "config_win"
	}

	dir := filepath.Join(jdtHome, name)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("JDT config directory not found at %s: %w", dir, err)
	}

	return dir, nil
}
