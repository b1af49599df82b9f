// Package internal contains the implementation packages for paq.
//
// The packages are organized by step of a build pass:
//
//   - scanner: expands source arguments into files and watch roots
//   - namespace: derives dotted module names from source paths
//   - bundle: orders files and wraps them into one define()-style bundle
//   - tools: JavaScript minification and external test/doc commands
//   - build: the join, minify, test, document state machine and the watch session
//   - watcher: recursive fsnotify watch sets and the debounced rebuild scheduler
//   - config: options loaded through viper from flags, env and .paq.yml
//   - errors, logging, version: shared infrastructure
//
// A Session drives a Pipeline. In watch mode every pass, successful or not,
// is followed by tearing down the previous WatchSet and installing a new one
// over the roots the pass resolved, so directories created since the last
// pass are picked up and no watch handles accumulate.
package internal
