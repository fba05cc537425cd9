/*
Package config loads the application configuration from a YAML file, with
optional overrides from the environment and the command line.

A minimal file:

    server:
      app-port: 9090
      metric-port: 9292
    lucene:
      data-store: /sample-lucene-data

Keys are kebab-case; camelCase and snake_case spellings (`appPort`,
`app_port`) are accepted and mean the same thing. Unknown keys are rejected.
*/
package config
