package rsync

// BuildCommand constructs the mutating run invocation: itemized changes and
// per-file progress plus the user-selected behavior flags.
func BuildCommand(binary, source, dest string, opts Options) CommandSpec {
	args := []string{"-i", "--progress"}

	if opts.Archive {
		args = append(args, "-a")
	} else {
		if opts.Recursive {
			args = append(args, "-r")
		}
		if opts.Symlinks {
			args = append(args, "-l")
		}
		if opts.Permissions {
			args = append(args, "-p")
		}
		if opts.Times {
			args = append(args, "-t")
		}
		if opts.Group {
			args = append(args, "-g")
		}
	}

	if opts.Compress {
		args = append(args, "-z")
	}

	for _, pattern := range opts.Excludes {
		args = append(args, "--exclude", pattern)
	}

	args = append(args, source, dest)

	return CommandSpec{Path: binary, Args: args}
}

// BuildPreflightCommand constructs the non-mutating preview invocation used
// to discover the total work size and validate access. Password prompts are
// disabled so an unreachable host fails fast instead of blocking on stdin.
func BuildPreflightCommand(binary, source, dest string) CommandSpec {
	return CommandSpec{
		Path: binary,
		Args: []string{
			"-e", "ssh -o PasswordAuthentication=no -o PreferredAuthentications=publickey",
			"-an",
			"--stats",
			source,
			dest,
		},
	}
}
