// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/vecsync/internal/errors"
)

const bashCompletionTemplate = `#!/bin/bash

# Bash completion script for vecsync
# Installation:
#   source <(vecsync completion bash)

_vecsync_completion() {
    local cur prev commands
    commands="init run status verify reset-checkpoint restore completion"

    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    if [ $COMP_CWORD -eq 1 ]; then
        if [[ ${cur} == -* ]] ; then
            COMPREPLY=( $(compgen -W "--config --json --no-color --quiet --version" -- ${cur}) )
        else
            COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        fi
        return 0
    fi

    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        init)
            COMPREPLY=( $(compgen -W "--force" -- ${cur}) )
            ;;
        run)
            case "${prev}" in
                --durability)
                    COMPREPLY=( $(compgen -W "per-batch per-chunk" -- ${cur}) )
                    return 0
                    ;;
                --reconcile)
                    COMPREPLY=( $(compgen -W "union store" -- ${cur}) )
                    return 0
                    ;;
                --log-format)
                    COMPREPLY=( $(compgen -W "text json" -- ${cur}) )
                    return 0
                    ;;
            esac
            COMPREPLY=( $(compgen -W "--batch-size --target --delay --durability --reconcile --max-batches --single --metrics-addr --debug --no-progress --log-format" -- ${cur}) )
            ;;
        reset-checkpoint|restore)
            COMPREPLY=( $(compgen -W "--yes" -- ${cur}) )
            ;;
        completion)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _vecsync_completion vecsync
`

const zshCompletionTemplate = `#compdef vecsync

# Zsh completion script for vecsync
# Installation:
#   vecsync completion zsh > "${fpath[1]}/_vecsync"

_vecsync() {
    local -a commands
    commands=(
        'init:Create .vecsync/config.yaml'
        'run:Embed unprocessed chunks'
        'status:Show store and checkpoint progress'
        'verify:Check the store files for damage'
        'reset-checkpoint:Forget processed chunk ids'
        'restore:Roll the store back to its latest backup'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--config[Configuration file]:config file:_files -g "*.yaml"' \
        '--json[Machine-readable output]' \
        '--no-color[Disable colored output]' \
        '(-q --quiet)'{-q,--quiet}'[Suppress progress output]' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                init)
                    _arguments '--force[Overwrite an existing configuration file]'
                    ;;
                run)
                    _arguments \
                        '--batch-size[Chunks fetched per batch]:size:' \
                        '--target[Target percentage]:percent:' \
                        '--delay[Minimum spacing between embedding calls]:duration:' \
                        '--durability[When to save]:mode:(per-batch per-chunk)' \
                        '--reconcile[How to combine checkpoint and store ids]:mode:(union store)' \
                        '--max-batches[Stop after this many batches]:count:' \
                        '--single[Process exactly one chunk]' \
                        '--metrics-addr[Prometheus metrics address]:address:' \
                        '--debug[Enable debug logging]' \
                        '--no-progress[Disable the progress bar]' \
                        '--log-format[Log format]:format:(text json)'
                    ;;
                reset-checkpoint|restore)
                    _arguments '--yes[Confirm]'
                    ;;
                completion)
                    _arguments '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_vecsync
`

const fishCompletionTemplate = `# Fish completion script for vecsync
# Installation:
#   vecsync completion fish > ~/.config/fish/completions/vecsync.fish

complete -c vecsync -f -n "__fish_use_subcommand" -a "init" -d "Create .vecsync/config.yaml"
complete -c vecsync -f -n "__fish_use_subcommand" -a "run" -d "Embed unprocessed chunks"
complete -c vecsync -f -n "__fish_use_subcommand" -a "status" -d "Show store and checkpoint progress"
complete -c vecsync -f -n "__fish_use_subcommand" -a "verify" -d "Check the store files for damage"
complete -c vecsync -f -n "__fish_use_subcommand" -a "reset-checkpoint" -d "Forget processed chunk ids"
complete -c vecsync -f -n "__fish_use_subcommand" -a "restore" -d "Roll the store back to its latest backup"
complete -c vecsync -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

complete -c vecsync -l version -d "Show version and exit"
complete -c vecsync -l config -d "Configuration file" -r
complete -c vecsync -l json -d "Machine-readable output"
complete -c vecsync -l no-color -d "Disable colored output"
complete -c vecsync -s q -l quiet -d "Suppress progress output"

complete -c vecsync -n "__fish_seen_subcommand_from init" -l force -d "Overwrite an existing configuration file"

complete -c vecsync -n "__fish_seen_subcommand_from run" -l batch-size -d "Chunks fetched per batch" -r
complete -c vecsync -n "__fish_seen_subcommand_from run" -l target -d "Target percentage" -r
complete -c vecsync -n "__fish_seen_subcommand_from run" -l delay -d "Minimum spacing between embedding calls" -r
complete -c vecsync -n "__fish_seen_subcommand_from run" -l durability -d "When to save" -r -f -a "per-batch per-chunk"
complete -c vecsync -n "__fish_seen_subcommand_from run" -l reconcile -d "How to combine checkpoint and store ids" -r -f -a "union store"
complete -c vecsync -n "__fish_seen_subcommand_from run" -l max-batches -d "Stop after this many batches" -r
complete -c vecsync -n "__fish_seen_subcommand_from run" -l single -d "Process exactly one chunk"
complete -c vecsync -n "__fish_seen_subcommand_from run" -l metrics-addr -d "Prometheus metrics address" -r
complete -c vecsync -n "__fish_seen_subcommand_from run" -l debug -d "Enable debug logging"
complete -c vecsync -n "__fish_seen_subcommand_from run" -l no-progress -d "Disable the progress bar"
complete -c vecsync -n "__fish_seen_subcommand_from run" -l log-format -d "Log format" -r -f -a "text json"

complete -c vecsync -n "__fish_seen_subcommand_from reset-checkpoint restore" -l yes -d "Confirm"

complete -c vecsync -n "__fish_seen_subcommand_from completion" -f -a "bash zsh fish"
`

var completionScripts = map[string]string{
	"bash": bashCompletionTemplate,
	"zsh":  zshCompletionTemplate,
	"fish": fishCompletionTemplate,
}

// runCompletion executes the 'vecsync completion' command.
func runCompletion(ctx context.Context, args []string, globals GlobalFlags, out io.Writer) error {
	fs := flag.NewFlagSet("completion", flag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprint(fs.Output(), `Usage: vecsync completion <bash|zsh|fish>

Prints a shell completion script.

Examples:
  source <(vecsync completion bash)
  vecsync completion zsh > "${fpath[1]}/_vecsync"
  vecsync completion fish > ~/.config/fish/completions/vecsync.fish
`)
	}
	if done, err := parseFlags(fs, args); done {
		return err
	}
	if fs.NArg() != 1 {
		return errors.NewInputError(
			"Invalid arguments",
			"The completion command requires exactly one argument: the shell name",
			"Run 'vecsync completion bash', 'vecsync completion zsh', or 'vecsync completion fish'",
		)
	}

	script, ok := completionScripts[fs.Arg(0)]
	if !ok {
		return errors.NewInputError(
			fmt.Sprintf("Unsupported shell %q", fs.Arg(0)),
			"Completion scripts exist for bash, zsh and fish",
			"Run 'vecsync completion bash', 'vecsync completion zsh', or 'vecsync completion fish'",
		)
	}
	_, err := io.WriteString(out, script)
	return err
}
