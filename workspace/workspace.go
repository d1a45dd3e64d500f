// Package workspace materializes per-session project directories.
// Language servers reject empty roots, so every session gets a minimal
// scaffold with a project descriptor before the server is spawned.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const javaMainSource = `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, World!");
    }
}`

const pythonMainSource = `def main():
    print("Hello, World!")


if __name__ == "__main__":
    main()
`

const projectDescriptor = `<?xml version="1.0" encoding="UTF-8"?>
<projectDescription>
    <name>%s</name>
    <buildSpec>
        <buildCommand>
            <name>org.eclipse.jdt.core.javabuilder</name>
        </buildCommand>
    </buildSpec>
    <natures>
        <nature>org.eclipse.jdt.core.javanature</nature>
    </natures>
</projectDescription>`

const classpathDescriptor = `<?xml version="1.0" encoding="UTF-8"?>
<classpath>
    <classpathentry kind="src" path="src"/>
    <classpathentry kind="con" path="org.eclipse.jdt.launching.JRE_CONTAINER"/>
    <classpathentry kind="output" path="bin"/>
</classpath>`

// Prepare wipes and recreates a session workspace directory. A stale
// directory from a crashed session must never leak into a new one.
func Prepare(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear workspace %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}

	return nil
}

// Scaffold writes the minimal project files for the given language and
// returns the path of the scaffolded main file.
func Scaffold(language, dir, sessionID string) (string, error) {
	switch language {
	case "java":
		return scaffoldJava(dir, sessionID)
	case "python":
		return scaffoldPython(dir)
	default:
		return "", fmt.Errorf("no workspace scaffold for language %q", language)
	}
}

func scaffoldJava(dir, sessionID string) (string, error) {
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create src directory: %w", err)
	}

	mainFile := filepath.Join(srcDir, "Main.java")
	if err := os.WriteFile(mainFile, []byte(javaMainSource), 0o644); err != nil {
		return "", fmt.Errorf("failed to write Main.java: %w", err)
	}

	// Sessions share the JDT LS data directory namespace, so Eclipse
	// project names must be unique per session or the server refuses
	// to import the project.
	project := fmt.Sprintf(projectDescriptor, uniqueProjectName(sessionID))
	if err := os.WriteFile(filepath.Join(dir, ".project"), []byte(project), 0o644); err != nil {
		return "", fmt.Errorf("failed to write .project: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".classpath"), []byte(classpathDescriptor), 0o644); err != nil {
		return "", fmt.Errorf("failed to write .classpath: %w", err)
	}

	return mainFile, nil
}

func scaffoldPython(dir string) (string, error) {
	mainFile := filepath.Join(dir, "main.py")
	if err := os.WriteFile(mainFile, []byte(pythonMainSource), 0o644); err != nil {
		return "", fmt.Errorf("failed to write main.py: %w", err)
	}

	return mainFile, nil
}

// uniqueProjectName appends 8 random hex characters to the session id.
func uniqueProjectName(sessionID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return sessionID + "-" + suffix
}
