// Package imagegen generates illustration images through hosted synthesis
// providers. Seedream (Volcano Engine Ark) and GLM-Image (BigModel) share one
// request shape: POST a JSON body, read data[0].url from the answer, then
// download that URL. Each generation runs as attempts of a keypool.Executor,
// so a rejected credential rotates to the next one in the pool.
package imagegen
