package sqlinline

// generation_jobs.blueprint_id carries a unique constraint; inserting a job for
// a blueprint that already has one replaces it.
const QInsertGenerationJob = `--sql 260cd34b-6aca-4cf0-a1f3-697ed995306e
insert into generation_jobs (id, blueprint_id, request_data, retry_count, next_retry_at, error_type, last_error, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::jsonb, $4::int, $5::timestamptz, $6::text, $7::text, now(), now())
on conflict (blueprint_id) do update set
    id = excluded.id,
    request_data = excluded.request_data,
    retry_count = excluded.retry_count,
    next_retry_at = excluded.next_retry_at,
    error_type = excluded.error_type,
    last_error = excluded.last_error,
    created_at = now(),
    updated_at = now()
returning created_at, updated_at;
`

// QUpdateGenerationJob only matches while retry_count still holds the value the
// caller read ($6), so two workers cannot both spend the same retry.
const QUpdateGenerationJob = `--sql eafeab02-41e6-4976-9116-28ef00ab0b65
update generation_jobs
set retry_count = coalesce($2::int, retry_count),
    next_retry_at = coalesce($3::timestamptz, next_retry_at),
    last_error = coalesce($4::text, last_error),
    error_type = coalesce($5::text, error_type),
    updated_at = now()
where id = $1::uuid
  and retry_count = $6::int;
`

const QDeleteGenerationJob = `--sql 99fb2420-dd46-44fe-a6fa-ea88d4485664
delete from generation_jobs
where id = $1::uuid;
`

const QDeleteJobsForBlueprint = `--sql bcc7a2f8-59f5-426e-b1ca-77b1bab535e9
delete from generation_jobs
where blueprint_id = $1::uuid;
`

// QClaimDueJobs hands each due job to exactly one caller: rows are locked with
// skip locked and their next_retry_at is pushed forward by the lease ($2
// seconds). The original due time is returned so callers see the schedule,
// together with the lease expiry that identifies the claim.
const QClaimDueJobs = `--sql 68587eea-0b9c-432d-9afe-4afca579e0e5
with due as (
    select id, next_retry_at
    from generation_jobs
    where next_retry_at <= now()
    order by next_retry_at asc
    limit $1
    for update skip locked
),
claimed as (
    update generation_jobs j
    set next_retry_at = now() + make_interval(secs => $2::double precision),
        updated_at = now()
    from due
    where j.id = due.id
    returning j.id, j.blueprint_id, j.request_data, j.retry_count, due.next_retry_at as due_at,
              j.error_type, j.last_error, j.created_at, j.updated_at, j.next_retry_at as lease_until
)
select id::text, blueprint_id::text, request_data, retry_count, due_at, error_type, last_error, created_at, updated_at, lease_until
from claimed
order by due_at asc;
`

// QRenewJobLease extends a claim while the row still carries the lease expiry
// ($3) and retry count ($2) it was handed out with. No row means another
// worker took the job over or it was settled.
const QRenewJobLease = `--sql ed834296-203b-4ef3-b013-24642ecc66e5
update generation_jobs
set next_retry_at = now() + make_interval(secs => $4::double precision),
    updated_at = now()
where id = $1::uuid
  and retry_count = $2::int
  and next_retry_at = $3::timestamptz
returning next_retry_at;
`
